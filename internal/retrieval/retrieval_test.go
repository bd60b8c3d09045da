package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/state"
	"github.com/leapstack-labs/sqlpilot/internal/testutil"
)

func TestMatchQuery(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"How many orders did each customer place?", `"orders" OR "customer" OR "place"`},
		{"total_amount by region, region!", `"total_amount" OR "region"`},
		{"What is the?", ""},
		{"a b c", ""},
		{`revenue "2024"`, `"revenue" OR "2024"`},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchQuery(tt.question))
		})
	}
}

func indexedStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := state.OpenAndMigrate(ctx, ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	shop := &schema.Schema{Domain: "shop", Tables: []schema.Table{
		{Name: "customers", Columns: []schema.Column{{Name: "id"}, {Name: "email"}, {Name: "region"}}},
		{Name: "orders", Columns: []schema.Column{{Name: "id"}, {Name: "customer_id"}, {Name: "amount"}},
			ForeignKeys: []schema.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}}},
		{Name: "products", Columns: []schema.Column{{Name: "sku"}, {Name: "price"}}},
	}}
	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))
	return s
}

func TestFTS_Retrieve(t *testing.T) {
	r := NewFTS(indexedStore(t), testutil.NewTestLogger(t))

	chunks, err := r.Retrieve(context.Background(), "shop", "total amount per region", 3)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, schema.RelationshipsID("shop"), chunks[0].ID, "relationships chunk is pinned first")

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "orders__schema")
	assert.Contains(t, ids, "customers__schema")
	assert.NotContains(t, ids, "products__schema")
	assert.Len(t, Texts(chunks), len(chunks))
}

func TestFTS_RetrieveRespectsK(t *testing.T) {
	r := NewFTS(indexedStore(t), nil)

	chunks, err := r.Retrieve(context.Background(), "shop", "id", 2)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.Equal(t, schema.RelationshipsID("shop"), chunks[0].ID)
}

func TestFTS_RetrieveWithoutTerms(t *testing.T) {
	r := NewFTS(indexedStore(t), nil)

	chunks, err := r.Retrieve(context.Background(), "shop", "what is the?", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 4, "falls back to every chunk of the domain")
	assert.Equal(t, schema.RelationshipsID("shop"), chunks[0].ID)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ID], "duplicate %s", c.ID)
		seen[c.ID] = true
	}
}

func TestFTS_RetrieveUnknownDomain(t *testing.T) {
	r := NewFTS(indexedStore(t), nil)

	chunks, err := r.Retrieve(context.Background(), "nowhere", "orders", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

type failingIndex struct{ Index }

func (failingIndex) GetChunk(context.Context, string, string) (schema.Chunk, error) {
	return schema.Chunk{}, state.ErrNotFound
}

func (failingIndex) SearchChunks(context.Context, string, string, int) ([]state.ChunkHit, error) {
	return nil, errors.New("fts5: syntax error")
}

func TestFTS_RetrieveSearchError(t *testing.T) {
	_, err := NewFTS(failingIndex{}, nil).Retrieve(context.Background(), "shop", "orders", 5)
	assert.ErrorContains(t, err, "fts5")
}
