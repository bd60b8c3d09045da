// Package config loads sqlpilot configuration from defaults, the project
// config file, SQLPILOT_ environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/sqlpilot/internal/llm"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// Config holds all sqlpilot configuration.
type Config struct {
	// MaxRows is the row ceiling enforced by the safety gate.
	MaxRows int `koanf:"max_rows"`
	// MaxRetries is the number of correction rounds after the first attempt.
	MaxRetries int `koanf:"max_retries"`
	// TopK is the number of schema chunks retrieved per question.
	TopK int `koanf:"top_k"`

	// Dialect selects the gate rules for statements checked without a domain.
	Dialect string `koanf:"dialect"`

	ExamplesDir string `koanf:"examples_dir"`
	StatePath   string `koanf:"state_path"`
	Verbose     bool   `koanf:"verbose"`
	Output      string `koanf:"output"`

	Timeouts  Timeouts        `koanf:"timeouts"`
	Generator llm.Config      `koanf:"generator"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Eval      EvalConfig      `koanf:"eval"`

	Domains map[string]core.TargetConfig `koanf:"domains"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// Timeouts bounds the blocking stages of a question.
type Timeouts struct {
	Generate time.Duration `koanf:"generate"`
	Execute  time.Duration `koanf:"execute"`
}

// RetrievalConfig selects how schema chunks are ranked for a question.
type RetrievalConfig struct {
	// Mode is fts or embedding.
	Mode string `koanf:"mode"`
	// EmbeddingModel overrides the provider's default embedding model.
	// The embedding provider is generator.provider.
	EmbeddingModel string `koanf:"embedding_model"`
}

// EmbedderConfig returns the generator settings with the model replaced by
// the embedding model.
func (c *Config) EmbedderConfig() llm.Config {
	cfg := c.Generator
	cfg.Model = c.Retrieval.EmbeddingModel
	return cfg
}

// EvalConfig configures evaluation batches.
type EvalConfig struct {
	Workers     int    `koanf:"workers"`
	Decimals    int    `koanf:"decimals"`
	Policy      string `koanf:"policy"`
	SelfCorrect bool   `koanf:"self_correct"`
}

// Domain returns the target for name.
func (c *Config) Domain(name string) (core.TargetConfig, bool) {
	t, ok := c.Domains[name]
	return t, ok
}
