package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/state"
	"github.com/leapstack-labs/sqlpilot/internal/testutil"
)

// keywordEmbedder places a text on one axis per keyword group.
type keywordEmbedder struct {
	axes  [][]string
	calls int
	err   error
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{axes: [][]string{
		{"customer", "region", "email"},
		{"order", "amount"},
		{"product", "price", "sku"},
	}}
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, len(e.axes))
		for axis, words := range e.axes {
			for _, w := range words {
				v[axis] += float32(strings.Count(lower, w))
			}
		}
		out[i] = v
	}
	return out, nil
}

func embeddedStore(t *testing.T, e Embedder, model string) *state.SQLiteStore {
	t.Helper()
	s := indexedStore(t)
	ctx := context.Background()
	chunks, err := s.ListChunks(ctx, "shop", 0)
	require.NoError(t, err)
	n, err := IndexEmbeddings(ctx, s, e, model, "shop", chunks)
	require.NoError(t, err)
	require.Equal(t, len(chunks), n)
	return s
}

func TestEmbedding_Retrieve(t *testing.T) {
	e := newKeywordEmbedder()
	s := embeddedStore(t, e, "test:keywords")
	r := NewEmbedding(s, e, "test:keywords", testutil.NewTestLogger(t))

	chunks, err := r.Retrieve(context.Background(), "shop", "average price per product sku", 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, schema.RelationshipsID("shop"), chunks[0].ID, "relationships chunk is pinned first")
	assert.Equal(t, "products__schema", chunks[1].ID)
	assert.InDelta(t, 0, chunks[1].Score, 1e-6, "identical direction has zero distance")
}

func TestEmbedding_RetrieveDefaultK(t *testing.T) {
	e := newKeywordEmbedder()
	r := NewEmbedding(embeddedStore(t, e, "m"), e, "m", nil)

	chunks, err := r.Retrieve(context.Background(), "shop", "orders by customer region", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 4, "every chunk fits under the default k")
	assert.Equal(t, schema.RelationshipsID("shop"), chunks[0].ID)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ID], "duplicate %s", c.ID)
		seen[c.ID] = true
	}
}

func TestEmbedding_RetrieveNotEmbedded(t *testing.T) {
	e := newKeywordEmbedder()

	_, err := NewEmbedding(indexedStore(t), e, "m", nil).Retrieve(context.Background(), "shop", "orders", 3)
	require.ErrorIs(t, err, ErrNotEmbedded)
	assert.Contains(t, err.Error(), "sqlpilot index shop")

	// Vectors of another model are not used.
	_, err = NewEmbedding(embeddedStore(t, e, "a"), e, "b", nil).Retrieve(context.Background(), "shop", "orders", 3)
	assert.ErrorIs(t, err, ErrNotEmbedded)
}

func TestEmbedding_RetrieveDimensionMismatch(t *testing.T) {
	s := embeddedStore(t, newKeywordEmbedder(), "m")

	narrow := &keywordEmbedder{axes: [][]string{{"order"}, {"price"}}}
	_, err := NewEmbedding(s, narrow, "m", nil).Retrieve(context.Background(), "shop", "orders", 3)
	assert.ErrorIs(t, err, state.ErrDimensionMismatch)
}

func TestEmbedding_RetrieveEmbedderError(t *testing.T) {
	e := newKeywordEmbedder()
	s := embeddedStore(t, e, "m")
	e.err = errors.New("connection refused")

	_, err := NewEmbedding(s, e, "m", nil).Retrieve(context.Background(), "shop", "orders", 3)
	assert.ErrorContains(t, err, "connection refused")
}

func TestIndexEmbeddings_Batches(t *testing.T) {
	ctx := context.Background()
	s, err := state.OpenAndMigrate(ctx, ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	wide := &schema.Schema{Domain: "wide"}
	for i := range embedBatchSize + 8 {
		wide.Tables = append(wide.Tables, schema.Table{Name: fmt.Sprintf("t%02d", i), Columns: []schema.Column{{Name: "order_id"}}})
	}
	chunks := wide.Chunks()
	require.NoError(t, s.ReplaceChunks(ctx, "wide", chunks))

	e := newKeywordEmbedder()
	n, err := IndexEmbeddings(ctx, s, e, "m", "wide", chunks)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), n)
	assert.Equal(t, 2, e.calls)

	count, err := s.CountEmbeddings(ctx, "wide", "m")
	require.NoError(t, err)
	assert.Equal(t, len(chunks), count)
}

type shortEmbedder struct{}

func (shortEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func TestIndexEmbeddings_CountMismatch(t *testing.T) {
	s := indexedStore(t)
	chunks, err := s.ListChunks(context.Background(), "shop", 0)
	require.NoError(t, err)

	_, err = IndexEmbeddings(context.Background(), s, shortEmbedder{}, "m", "shop", chunks)
	assert.ErrorContains(t, err, "got 1 vectors")
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]string{"": ModeFTS, "FTS": ModeFTS, " embedding ": ModeEmbedding} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("chroma")
	assert.ErrorContains(t, err, "fts or embedding")
}
