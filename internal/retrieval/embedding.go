package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/state"
)

// Retrieval modes.
const (
	ModeFTS       = "fts"
	ModeEmbedding = "embedding"
)

// Modes lists the accepted retrieval.mode values.
var Modes = []string{ModeFTS, ModeEmbedding}

// ParseMode normalizes a configured mode. Empty selects ModeFTS.
func ParseMode(s string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "":
		return ModeFTS, nil
	case ModeFTS, ModeEmbedding:
		return m, nil
	}
	return "", fmt.Errorf("unknown retrieval mode %q (want %s)", s, strings.Join(Modes, " or "))
}

// embedBatchSize bounds the texts sent in one embedding request.
const embedBatchSize = 32

// ErrNotEmbedded is returned when a domain has no vectors for the configured model.
var ErrNotEmbedded = errors.New("schema chunks are not embedded")

// Embedder turns texts into vectors, one per text and in order.
// llm.EmbeddingProvider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the chunk storage the embedding retriever reads from.
type VectorIndex interface {
	GetChunk(ctx context.Context, domain, id string) (schema.Chunk, error)
	SearchEmbeddings(ctx context.Context, domain, model string, query []float32, limit int) ([]state.ChunkHit, error)
	CountEmbeddings(ctx context.Context, domain, model string) (int, error)
}

// VectorWriter stores the embeddings of a domain's chunks.
type VectorWriter interface {
	ReplaceEmbeddings(ctx context.Context, domain, model string, vectors []state.ChunkVector) error
}

// Embedding ranks chunks by cosine distance between the question and chunk vectors.
type Embedding struct {
	index    VectorIndex
	embedder Embedder
	model    string
	logger   *slog.Logger
}

var _ Retriever = (*Embedding)(nil)

// NewEmbedding creates an embedding retriever. model names the vectors to
// search and must match the one used by IndexEmbeddings.
func NewEmbedding(index VectorIndex, embedder Embedder, model string, logger *slog.Logger) *Embedding {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Embedding{index: index, embedder: embedder, model: model, logger: logger}
}

// Retrieve returns the domain's relationships chunk followed by the nearest
// chunks, at most k in total.
func (r *Embedding) Retrieve(ctx context.Context, domain, question string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vecs, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: embed question: %w", domain, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("retrieve %s: embedder returned no vector for the question", domain)
	}

	hits, err := r.index.SearchEmbeddings(ctx, domain, r.model, vecs[0], k+1)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", domain, err)
	}
	if len(hits) == 0 {
		return nil, r.noHits(ctx, domain, len(vecs[0]))
	}

	c := newCollector(k)
	c.pinRelationships(ctx, r.index, domain)
	c.addHits(hits)

	r.logger.Debug("chunks retrieved",
		slog.String("domain", domain),
		slog.String("mode", ModeEmbedding),
		slog.String("model", r.model),
		slog.Int("hits", len(hits)),
		slog.Int("returned", len(c.out)))
	return c.out, nil
}

func (r *Embedding) noHits(ctx context.Context, domain string, dims int) error {
	n, err := r.index.CountEmbeddings(ctx, domain, r.model)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", domain, err)
	}
	if n == 0 {
		return fmt.Errorf("retrieve %s: %w with %s\nHint: run 'sqlpilot index %s' with retrieval.mode: embedding",
			domain, ErrNotEmbedded, r.model, domain)
	}
	return fmt.Errorf("retrieve %s: %w: question vector has %d dimensions, stored %s vectors differ\nHint: re-run 'sqlpilot index %s'",
		domain, state.ErrDimensionMismatch, dims, r.model, domain)
}

// IndexEmbeddings embeds every chunk and replaces the domain's stored vectors.
// It returns the number of vectors written.
func IndexEmbeddings(ctx context.Context, w VectorWriter, e Embedder, model, domain string, chunks []schema.Chunk) (int, error) {
	vectors := make([]state.ChunkVector, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		batch := chunks[start:min(start+embedBatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vecs, err := e.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed %s chunks: %w", domain, err)
		}
		if len(vecs) != len(batch) {
			return 0, fmt.Errorf("embed %s chunks: got %d vectors for %d chunks", domain, len(vecs), len(batch))
		}
		for i, c := range batch {
			vectors = append(vectors, state.ChunkVector{ChunkID: c.ID, Vector: vecs[i]})
		}
	}

	if err := w.ReplaceEmbeddings(ctx, domain, model, vectors); err != nil {
		return 0, err
	}
	return len(vectors), nil
}
