package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/internal/retrieval"
	"github.com/leapstack-labs/sqlpilot/internal/testutil"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"

	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/sqlite"
)

// scriptedGenerator returns canned replies in order and records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, p string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if len(g.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// fakeRunner fails statements containing a marker and succeeds otherwise.
type fakeRunner struct {
	targets  map[string]core.TargetConfig
	failOn   string
	executed []string
	delay    time.Duration
}

func (r *fakeRunner) Target(domain string) (core.TargetConfig, bool) {
	t, ok := r.targets[domain]
	return t, ok
}

func (r *fakeRunner) Execute(ctx context.Context, _ string, stmt guard.SafeStatement, _ int) (*core.Result, error) {
	r.executed = append(r.executed, stmt.SQL())
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, core.NewExecutionFailure(core.FailureTimeout, ctx.Err())
		}
	}
	if r.failOn != "" && strings.Contains(stmt.SQL(), r.failOn) {
		return nil, &core.ExecutionFailure{Kind: core.FailureMissingObject, Message: `relation "` + r.failOn + `" does not exist`}
	}
	return &core.Result{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
}

func newRunner() *fakeRunner {
	return &fakeRunner{targets: map[string]core.TargetConfig{"shop": {Type: "postgres"}}}
}

func newTestEngine(t *testing.T, gen *scriptedGenerator, runner *fakeRunner, retries int) *Engine {
	t.Helper()
	e, err := New(Config{
		Generator:  gen,
		Runner:     runner,
		MaxRetries: retries,
		MaxRows:    50,
		Logger:     testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return e
}

func TestAsk_FirstAttemptSucceeds(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "```sql\nSELECT count(*) AS n FROM orders;\n```"}}}
	runner := newRunner()

	out, err := newTestEngine(t, gen, runner, 2).Ask(context.Background(), "shop", "how many orders?")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls())
	assert.Equal(t, "SELECT count(*) AS n FROM orders\nLIMIT 50;", out.Statement.SQL())
	assert.Equal(t, 50, out.Statement.Cap())
	assert.Equal(t, 1, out.Result.NumRows())
	require.Len(t, out.Attempts, 1)
	assert.False(t, out.Attempts[0].Failed())
	assert.Contains(t, gen.prompts[0], "SQL Dialect: PostgreSQL")
	assert.Contains(t, gen.prompts[0], "(no schema context found)")
}

func TestAsk_CorrectsRejectionAndExecutionFailure(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{text: "DELETE FROM orders"},
		{text: "SELECT * FROM ordrs"},
		{text: "SELECT * FROM orders"},
	}}
	runner := newRunner()
	runner.failOn = "ordrs"

	out, err := newTestEngine(t, gen, runner, 2).Ask(context.Background(), "shop", "list orders")
	require.NoError(t, err)
	assert.Equal(t, 3, gen.calls())
	assert.Equal(t, "SELECT * FROM orders\nLIMIT 50", out.Statement.SQL())

	require.Len(t, out.Attempts, 3)
	assert.Equal(t, StageValidate, out.Attempts[0].Stage)
	assert.Equal(t, StageExecute, out.Attempts[1].Stage)
	assert.True(t, out.Attempts[1].Failed())
	assert.False(t, out.Attempts[2].Failed())

	// Corrective prompts carry the failing statement and the reason.
	assert.Contains(t, gen.prompts[1], "Bad SQL:\nDELETE FROM orders")
	assert.Contains(t, gen.prompts[1], "FORBIDDEN_KEYWORD")
	assert.Contains(t, gen.prompts[2], "Bad SQL:\nSELECT * FROM ordrs\nLIMIT 50")
	assert.Contains(t, gen.prompts[2], `relation "ordrs" does not exist`)
	assert.Equal(t, []string{"SELECT * FROM ordrs\nLIMIT 50", "SELECT * FROM orders\nLIMIT 50"}, runner.executed)
}

func TestAsk_ExhaustedAfterMaxRetries(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{text: "SELECT * FROM ghost"},
		{text: "SELECT * FROM ghost g"},
		{text: "SELECT g.* FROM ghost g"},
		{text: "SELECT 1"},
	}}
	runner := newRunner()
	runner.failOn = "ghost"

	_, err := newTestEngine(t, gen, runner, 2).Ask(context.Background(), "shop", "q")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, gen.calls(), "initial attempt plus two corrections")
	assert.Len(t, exhausted.History, 3)
	assert.Equal(t, "SELECT g.* FROM ghost g\nLIMIT 50", exhausted.LastStatement)

	var fail *core.ExecutionFailure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, core.FailureMissingObject, fail.Kind)
	assert.Contains(t, err.Error(), "execute=3")
	assert.Contains(t, exhausted.Summary(), "attempt 2 [EXECUTE]")
}

func TestAsk_ZeroRetries(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "UPDATE t SET x = 1"}}}

	_, err := newTestEngine(t, gen, newRunner(), 0).Ask(context.Background(), "shop", "q")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, gen.calls())
	var rej *guard.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, guard.ReasonForbiddenKeyword, rej.Reason)
}

func TestAsk_FirstGenerationFailureIsTerminal(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: errors.New("connection refused")}, {text: "SELECT 1"}}}

	_, err := newTestEngine(t, gen, newRunner(), 2).Ask(context.Background(), "shop", "q")

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 0, genErr.Attempt)
	assert.Equal(t, 1, gen.calls())
}

func TestAsk_EmptyGenerationIsFailure(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "  \n "}}}

	_, err := newTestEngine(t, gen, newRunner(), 2).Ask(context.Background(), "shop", "q")

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestAsk_LaterGenerationFailureReusesCorrection(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{text: "DROP TABLE orders"},
		{err: errors.New("timeout")},
		{text: "SELECT 1"},
	}}

	out, err := newTestEngine(t, gen, newRunner(), 2).Ask(context.Background(), "shop", "q")
	require.NoError(t, err)
	assert.Equal(t, 3, gen.calls())
	assert.Equal(t, gen.prompts[1], gen.prompts[2], "failed generation round reuses the corrective prompt")
	assert.Equal(t, StageGenerate, out.Attempts[1].Stage)
}

func TestAsk_LaterGenerationFailureConsumesRetry(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{text: "DROP TABLE orders"},
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}

	_, err := newTestEngine(t, gen, newRunner(), 2).Ask(context.Background(), "shop", "q")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, gen.calls())
	assert.Equal(t, "DROP TABLE orders", exhausted.LastStatement)
	var genErr *GenerationError
	assert.ErrorAs(t, exhausted.LastErr, &genErr)
}

func TestAsk_UnknownDomain(t *testing.T) {
	gen := &scriptedGenerator{}

	_, err := newTestEngine(t, gen, newRunner(), 2).Ask(context.Background(), "nowhere", "q")

	var fail *core.ExecutionFailure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, core.FailureUnknownDomain, fail.Kind)
	assert.Zero(t, gen.calls())
}

func TestAsk_ExecuteTimeout(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "SELECT 1"}}}
	runner := newRunner()
	runner.delay = time.Second

	e, err := New(Config{Generator: gen, Runner: runner, MaxRetries: 0, ExecuteTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), "shop", "q")
	var fail *core.ExecutionFailure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, core.FailureTimeout, fail.Kind)
}

func TestAsk_CancelledContext(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "SELECT 1"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, gen, newRunner(), 2).Ask(ctx, "shop", "q")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gen.calls())
}

type staticRetriever struct {
	chunks []retrieval.Chunk
	err    error
}

func (r staticRetriever) Retrieve(context.Context, string, string, int) ([]retrieval.Chunk, error) {
	return r.chunks, r.err
}

func TestAsk_PromptIncludesContextAndExamples(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.txt"), []byte("Q: count\nSQL: SELECT count(*) FROM t;\n"), 0o600))

	gen := &scriptedGenerator{replies: []reply{{text: "SELECT 1"}}}
	runner := newRunner()
	runner.targets["shop"] = core.TargetConfig{Type: "duckdb"}

	e, err := New(Config{
		Generator:   gen,
		Runner:      runner,
		Retriever:   staticRetriever{chunks: []retrieval.Chunk{{ID: "a", Text: "TABLE: orders"}, {ID: "b", Text: "TABLE: customers"}}},
		ExamplesDir: dir,
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	out, err := e.Ask(context.Background(), "shop", "q")
	require.NoError(t, err)
	assert.Equal(t, "TABLE: orders\n\n---\n\nTABLE: customers", out.Context)
	assert.Contains(t, gen.prompts[0], "SQL Dialect: DuckDB")
	assert.Contains(t, gen.prompts[0], "Few-shot Examples")
	assert.Contains(t, gen.prompts[0], "TABLE: customers")
}

func TestAsk_RetrievalError(t *testing.T) {
	gen := &scriptedGenerator{}
	e, err := New(Config{Generator: gen, Runner: newRunner(), Retriever: staticRetriever{err: errors.New("index missing")}})
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), "shop", "q")
	assert.ErrorContains(t, err, "index missing")
	assert.Zero(t, gen.calls())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Runner: newRunner()})
	assert.Error(t, err)
	_, err = New(Config{Generator: &scriptedGenerator{}})
	assert.Error(t, err)

	e, err := New(Config{Generator: &scriptedGenerator{}, Runner: newRunner(), MaxRetries: -1})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, e.MaxRetries())
}

func TestGate(t *testing.T) {
	runner := newRunner()
	runner.targets["warehouse"] = core.TargetConfig{Type: "mysql"}
	e := newTestEngine(t, &scriptedGenerator{}, runner, 1)

	g, ok := e.Gate("warehouse")
	require.True(t, ok)
	assert.Equal(t, guard.DialectMySQL, g.Dialect())
	assert.Equal(t, 50, g.Ceiling())

	again, _ := e.Gate("warehouse")
	assert.Same(t, g, again)

	_, ok = e.Gate("nowhere")
	assert.False(t, ok)
}

func TestDialectLabel(t *testing.T) {
	assert.Equal(t, "PostgreSQL", DialectLabel(core.TargetConfig{Type: "postgres"}))
	assert.Equal(t, "SQLite", DialectLabel(core.TargetConfig{Type: "sqlite"}))
	assert.Equal(t, "Redshift", DialectLabel(core.TargetConfig{Type: "postgres", Dialect: "Redshift"}))
	assert.Equal(t, "TiDB", DialectLabel(core.TargetConfig{Type: "TiDB"}))
	assert.Equal(t, "PostgreSQL", DialectLabel(core.TargetConfig{Type: "oracle"}))
}

func TestDraft(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "SQL: SELECT id FROM orders"}, {text: "DROP TABLE orders"}}}
	runner := newRunner()
	e := newTestEngine(t, gen, runner, 2)

	d, err := e.Draft(context.Background(), "shop", "ids")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM orders", d.Candidate)
	assert.Equal(t, "SELECT id FROM orders\nLIMIT 50", d.Statement.SQL())
	assert.Empty(t, runner.executed, "drafts are never executed")

	d, err = e.Draft(context.Background(), "shop", "drop")
	var rej *guard.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "DROP TABLE orders", d.Candidate)
	assert.True(t, d.Statement.IsZero())
	assert.Equal(t, 2, gen.calls(), "no correction rounds")
}
