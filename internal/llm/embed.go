package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Default embedding models per provider.
const (
	DefaultOllamaEmbeddingModel = "nomic-embed-text"
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
)

// embeddingTaskType asks Gemini for vectors tuned to similarity ranking.
const embeddingTaskType = "SEMANTIC_SIMILARITY"

// ErrEmbeddingCount is returned when a provider answers with a different number
// of vectors than texts sent.
var ErrEmbeddingCount = errors.New("embedding count does not match input count")

// Embedder turns texts into vectors, one per text and in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingProvider is a long-lived embedder handle.
type EmbeddingProvider interface {
	Embedder

	// Name returns "<provider>:<model>". Stored vectors are keyed by it.
	Name() string

	Close() error
}

// NewEmbedder creates the embedding provider selected by cfg.Provider. cfg.Model
// names the embedding model; empty selects the provider default.
func NewEmbedder(ctx context.Context, cfg Config, logger *slog.Logger) (EmbeddingProvider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaEmbedder(cfg, logger), nil
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown embedding provider %q (want %s or %s)", cfg.Provider, ProviderOllama, ProviderGemini)
}

// OllamaEmbedder embeds texts with a local Ollama server through /api/embed.
type OllamaEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllamaEmbedder creates an Ollama embedder. Empty fields take defaults.
func NewOllamaEmbedder(cfg Config, logger *slog.Logger) *OllamaEmbedder {
	def := DefaultConfig()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(cfg.URL, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Embed sends every text in one batch request.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrEmbeddingCount, len(result.Embeddings), len(texts))
	}

	o.logger.Debug("ollama embedded",
		slog.String("model", o.model),
		slog.Int("texts", len(texts)),
		slog.Duration("duration", time.Since(start)))
	return result.Embeddings, nil
}

// Name returns the provider name.
func (o *OllamaEmbedder) Name() string {
	return fmt.Sprintf("ollama:%s", o.model)
}

// Close releases idle connections.
func (o *OllamaEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// contentEmbedder is the part of *genai.Models the Gemini embedder uses.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder embeds texts with Google's Gemini API.
type GeminiEmbedder struct {
	models   contentEmbedder
	model    string
	taskType string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGeminiEmbedder creates a Gemini embedder. The API key falls back to GEMINI_API_KEY.
func NewGeminiEmbedder(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiEmbedder, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required (generator.api_key or GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiEmbedder(client.Models, cfg, logger), nil
}

func newGeminiEmbedder(models contentEmbedder, cfg Config, logger *slog.Logger) *GeminiEmbedder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{
		models:   models,
		model:    cfg.Model,
		taskType: embeddingTaskType,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Embed sends every text in one batch request.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{TaskType: g.taskType})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrEmbeddingCount, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("GenAI returned no embedding for text %d", i)
		}
		out[i] = emb.Values
	}

	g.logger.Debug("gemini embedded",
		slog.String("model", g.model),
		slog.Int("texts", len(texts)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Name returns the provider name.
func (g *GeminiEmbedder) Name() string {
	return fmt.Sprintf("gemini:%s", g.model)
}

// Close is a no-op; the GenAI client holds no resources that need releasing.
func (g *GeminiEmbedder) Close() error {
	return nil
}
