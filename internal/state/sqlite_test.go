package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/testutil"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenAndMigrate(context.Background(), ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	s := NewSQLiteStore(nil)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "cases.jsonl", "ollama", "lenient", false)
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.ErrorIs(t, s.Migrate(ctx), ErrNotOpened)
	_, err = s.SearchChunks(ctx, "shop", "orders", 5)
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.NoError(t, s.Close())
}

func TestSQLiteStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := OpenAndMigrate(context.Background(), path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, path, s.Path())
	v, err := s.GetMigrationVersion(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)

	// Migrations are idempotent.
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteStore_Runs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "cases.jsonl", "ollama", "lenient", true)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	cases := []Case{
		{Seq: 1, Domain: "shop", Question: "how many orders?", Status: "OK", PredSQL: "SELECT count(*) FROM orders LIMIT 200", PredRows: 1, GoldRows: 1, Attempts: 1, DurationMS: 12},
		{Seq: 0, Domain: "shop", Question: "drop it", Status: "FAIL_GENERATE_OR_GATE", Error: "FORBIDDEN_KEYWORD: drop"},
	}
	for _, c := range cases {
		require.NoError(t, s.SaveCase(ctx, run.ID, c))
	}

	counts := Counts{Total: 2, GatePassPred: 1, GatePassGold: 2, ExecutedPred: 1, ExecutedGold: 2, ExecutedBoth: 1, Equivalent: 1}
	require.NoError(t, s.CompleteRun(ctx, run.ID, RunStatusCompleted, counts, ""))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.True(t, got.SelfCorrect)
	assert.Equal(t, "ollama", got.Generator)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	stored, err := s.ListCases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].Seq, "cases come back in sequence order")
	assert.Equal(t, cases[0], stored[1])

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestSQLiteStore_RunNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CompleteRun(ctx, "missing", RunStatusFailed, Counts{}, "boom"), ErrNotFound)
}

func TestSQLiteStore_SaveCaseRequiresRun(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveCase(context.Background(), "missing", Case{Seq: 1, Domain: "shop", Question: "q", Status: "OK"})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestSQLiteStore_Chunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shop := &schema.Schema{Domain: "shop", Tables: []schema.Table{
		{Name: "customers", Columns: []schema.Column{{Name: "id"}, {Name: "email"}}},
		{Name: "orders", Columns: []schema.Column{{Name: "id"}, {Name: "customer_id"}, {Name: "total"}},
			ForeignKeys: []schema.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}}},
	}}
	hr := &schema.Schema{Domain: "hr", Tables: []schema.Table{{Name: "orders_archive"}}}

	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))
	require.NoError(t, s.ReplaceChunks(ctx, "hr", hr.Chunks()))

	hits, err := s.SearchChunks(ctx, "shop", `"email"`, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "customers__schema", hits[0].ID)
	assert.Equal(t, schema.KindTable, hits[0].Kind)

	hits, err = s.SearchChunks(ctx, "hr", `"email"`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "search is scoped to the domain")

	c, err := s.GetChunk(ctx, "shop", schema.RelationshipsID("shop"))
	require.NoError(t, err)
	assert.Contains(t, c.Text, "orders.customer_id -> customers.id")

	_, err = s.GetChunk(ctx, "shop", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// Replacing drops chunks that are no longer present.
	shop.Tables = shop.Tables[:1]
	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))
	all, err := s.ListChunks(ctx, "shop", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	hits, err = s.SearchChunks(ctx, "shop", `"total"`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	domains, err := s.ListIndexedDomains(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "hr", domains[0].Domain)
	assert.Equal(t, 2, domains[0].Chunks)
	assert.Equal(t, "shop", domains[1].Domain)
}

func TestSQLiteStore_Embeddings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shop := &schema.Schema{Domain: "shop", Tables: []schema.Table{
		{Name: "customers", Columns: []schema.Column{{Name: "id"}}},
		{Name: "orders", Columns: []schema.Column{{Name: "id"}}},
	}}
	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))

	vectors := []ChunkVector{
		{ChunkID: "customers__schema", Vector: []float32{1, 0}},
		{ChunkID: "orders__schema", Vector: []float32{0.6, 0.8}},
	}
	require.NoError(t, s.ReplaceEmbeddings(ctx, "shop", "ollama:m", vectors))

	hits, err := s.SearchEmbeddings(ctx, "shop", "ollama:m", []float32{0, 2}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "orders__schema", hits[0].ID)
	assert.InDelta(t, 0.2, hits[0].Score, 1e-6)
	assert.Equal(t, "customers__schema", hits[1].ID)
	assert.InDelta(t, 1.0, hits[1].Score, 1e-6)

	hits, err = s.SearchEmbeddings(ctx, "shop", "gemini:m", []float32{0, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "search is scoped to the model")

	n, err := s.CountEmbeddings(ctx, "shop", "ollama:m")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-indexing the chunks drops their vectors.
	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))
	n, err = s.CountEmbeddings(ctx, "shop", "ollama:m")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_EmbeddingsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shop := &schema.Schema{Domain: "shop", Tables: []schema.Table{{Name: "orders"}}}
	require.NoError(t, s.ReplaceChunks(ctx, "shop", shop.Chunks()))

	err := s.ReplaceEmbeddings(ctx, "shop", "m", []ChunkVector{
		{ChunkID: "orders__schema", Vector: []float32{1, 0}},
		{ChunkID: schema.RelationshipsID("shop"), Vector: []float32{1}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = s.ReplaceEmbeddings(ctx, "shop", "m", []ChunkVector{{ChunkID: "missing__schema", Vector: []float32{1}}})
	assert.Error(t, err, "vectors must belong to stored chunks")

	_, err = s.SearchEmbeddings(ctx, "shop", "m", nil, 3)
	assert.Error(t, err)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-8}
	got, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	d, err := CosineDistance([]float32{1, 0}, []float32{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-9, "zero vector")

	_, err = CosineDistance([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
