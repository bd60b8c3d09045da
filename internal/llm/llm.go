// Package llm provides the language model clients that turn prompts into
// candidate SQL text.
// Supports multiple backends: Ollama (local) and Google Gemini (cloud).
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SystemPrompt is sent as the system message with every request.
const SystemPrompt = "You are a precise Text-to-SQL generator. Output ONLY SQL."

// Provider names.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Generator turns a prompt into raw model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider is a long-lived generator handle. Close releases its resources.
type Provider interface {
	Generator

	// Name returns "<provider>:<model>".
	Name() string

	Close() error
}

// Config holds generator configuration.
type Config struct {
	// Provider: "ollama" or "gemini"
	Provider string `koanf:"provider"`

	// URL is the Ollama endpoint. Default: "http://localhost:11434"
	URL string `koanf:"url"`

	Model  string `koanf:"model"`
	APIKey string `koanf:"api_key"`

	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`

	// Timeout bounds one request at the transport level.
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOllama,
		URL:         "http://localhost:11434",
		Model:       "qwen2.5-coder:7b",
		Temperature: 0.1,
		MaxTokens:   512,
		Timeout:     180 * time.Second,
	}
}

// New creates the provider selected by cfg.Provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllama(cfg, logger)
	case ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown generator provider %q (want %s or %s)", cfg.Provider, ProviderOllama, ProviderGemini)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
