package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlpilot/internal/engine"
	"github.com/leapstack-labs/sqlpilot/pkg/compare"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// Status is the outcome of one case. Statuses are ordered: a case stops at
// the first stage that fails.
type Status string

// Case statuses.
const (
	StatusFailGenerateOrGate Status = "FAIL_GENERATE_OR_GATE"
	StatusFailGateGold       Status = "FAIL_GATE_GOLD"
	StatusFailExecPred       Status = "FAIL_EXEC_PRED"
	StatusFailExecGold       Status = "FAIL_EXEC_GOLD"
	StatusOK                 Status = "OK"
	StatusWrong              Status = "WRONG"
	// StatusSkipped marks cases not run because the batch was cancelled.
	StatusSkipped Status = "SKIPPED"
)

// DefaultWorkers is the case concurrency when Options.Workers is zero.
const DefaultWorkers = 4

// CaseResult is the report row for one case.
type CaseResult struct {
	Seq      int    `json:"seq"`
	Domain   string `json:"domain"`
	Question string `json:"question"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	// Reason is the rejection reason, failure kind or comparison verdict.
	Reason string `json:"reason,omitempty"`

	PredRaw string `json:"pred_raw"`
	PredSQL string `json:"pred_sql"`
	GoldRaw string `json:"gold_raw"`
	GoldSQL string `json:"gold_sql"`

	PredColumns []string `json:"pred_columns,omitempty"`
	GoldColumns []string `json:"gold_columns,omitempty"`
	PredRows    int      `json:"pred_rows"`
	GoldRows    int      `json:"gold_rows"`

	Attempts      int   `json:"attempts"`
	Indeterminate bool  `json:"indeterminate,omitempty"`
	DurationMS    int64 `json:"duration_ms"`
}

// Options configures a Harness.
type Options struct {
	// Engine generates and gates predicted statements.
	Engine *engine.Engine
	// Runner executes both predicted and gold statements.
	Runner  engine.Runner
	Checker *compare.Checker

	Workers int
	// SelfCorrect runs predictions through the correction loop instead of a single shot.
	SelfCorrect bool
	// ExecuteTimeout bounds each gold or single-shot predicted statement.
	ExecuteTimeout time.Duration

	Logger *slog.Logger
}

// Harness drives evaluation batches.
type Harness struct {
	engine      *engine.Engine
	runner      engine.Runner
	checker     *compare.Checker
	workers     int
	selfCorrect bool
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a harness.
func New(opts Options) (*Harness, error) {
	if opts.Engine == nil || opts.Runner == nil {
		return nil, errors.New("eval: engine and runner are required")
	}
	if opts.Checker == nil {
		opts.Checker = compare.NewChecker(compare.DefaultPolicy, compare.DefaultOptions())
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = engine.DefaultExecuteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Harness{
		engine:      opts.Engine,
		runner:      opts.Runner,
		checker:     opts.Checker,
		workers:     opts.Workers,
		selfCorrect: opts.SelfCorrect,
		timeout:     opts.ExecuteTimeout,
		logger:      opts.Logger,
	}, nil
}

// Policy returns the comparison policy in use.
func (h *Harness) Policy() compare.Policy { return h.checker.Policy() }

// SelfCorrect reports whether predictions go through the correction loop.
func (h *Harness) SelfCorrect() bool { return h.selfCorrect }

// Run evaluates every case. A failing case never stops the batch; only a
// cancelled context does, in which case the unfinished cases are SKIPPED
// and the context error is returned alongside the partial results.
func (h *Harness) Run(ctx context.Context, cases []Case) ([]CaseResult, error) {
	results := make([]CaseResult, len(cases))
	for i, c := range cases {
		results[i] = CaseResult{Seq: i, Domain: c.Domain, Question: c.Question, GoldRaw: c.GoldSQL, Status: StatusSkipped}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)

	for i, c := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = h.runCase(gctx, i, c)
			return nil
		})
	}

	err := g.Wait()
	h.logger.Info("evaluation finished", slog.Int("cases", len(cases)), slog.Int("workers", h.workers))
	if err != nil {
		return results, fmt.Errorf("evaluation cancelled: %w", err)
	}
	return results, nil
}

func (h *Harness) runCase(ctx context.Context, seq int, c Case) CaseResult {
	start := time.Now()
	r := CaseResult{Seq: seq, Domain: c.Domain, Question: c.Question, GoldRaw: c.GoldSQL}
	h.evaluate(ctx, c, &r)
	r.DurationMS = time.Since(start).Milliseconds()

	h.logger.Debug("case evaluated",
		slog.Int("seq", seq),
		slog.String("domain", c.Domain),
		slog.String("status", string(r.Status)))
	return r
}

// prediction is the predicted side of a case after generation and the gate.
// In self-correcting mode it has already been executed.
type prediction struct {
	stmt     guard.SafeStatement
	result   *core.Result
	err      error
	executed bool
}

func (h *Harness) evaluate(ctx context.Context, c Case, r *CaseResult) {
	pred, ok := h.predict(ctx, c, r)
	if !ok {
		return
	}

	gate, found := h.engine.Gate(c.Domain)
	if !found {
		r.fail(StatusFailGateGold, &core.ExecutionFailure{Kind: core.FailureUnknownDomain, Message: fmt.Sprintf("unknown domain %q", c.Domain)})
		return
	}
	goldStmt, err := gate.Validate(c.GoldSQL, 0)
	if err != nil {
		r.fail(StatusFailGateGold, err)
		return
	}
	r.GoldSQL = goldStmt.SQL()

	if !pred.executed {
		pred.result, pred.err = h.execute(ctx, c.Domain, pred.stmt)
	}
	if pred.err != nil {
		r.fail(StatusFailExecPred, pred.err)
		return
	}
	r.PredColumns, r.PredRows = pred.result.Columns, pred.result.NumRows()

	gold, err := h.execute(ctx, c.Domain, goldStmt)
	if err != nil {
		r.fail(StatusFailExecGold, err)
		return
	}
	r.GoldColumns, r.GoldRows = gold.Columns, gold.NumRows()

	v := h.checker.Check(pred.result, gold)
	r.Reason = v.Reason
	r.Indeterminate = v.Indeterminate
	if v.Equivalent {
		r.Status = StatusOK
	} else {
		r.Status = StatusWrong
	}
}

// predict produces the predicted statement. ok is false once the case has
// failed at generation or the gate.
func (h *Harness) predict(ctx context.Context, c Case, r *CaseResult) (prediction, bool) {
	if !h.selfCorrect {
		d, err := h.engine.Draft(ctx, c.Domain, c.Question)
		r.Attempts = 1
		r.PredRaw = d.Raw
		r.PredSQL = d.Candidate
		if err != nil {
			r.fail(StatusFailGenerateOrGate, err)
			return prediction{}, false
		}
		r.PredSQL = d.Statement.SQL()
		return prediction{stmt: d.Statement}, true
	}

	out, err := h.engine.Ask(ctx, c.Domain, c.Question)
	if err == nil {
		r.Attempts = len(out.Attempts)
		r.PredRaw = out.Attempts[len(out.Attempts)-1].Raw
		r.PredSQL = out.Statement.SQL()
		return prediction{stmt: out.Statement, result: out.Result, executed: true}, true
	}

	var exhausted *engine.ExhaustedError
	if errors.As(err, &exhausted) {
		r.Attempts = len(exhausted.History)
		r.PredSQL = exhausted.LastStatement
		if n := len(exhausted.History); n > 0 {
			r.PredRaw = exhausted.History[n-1].Raw
		}
		// The statement passed the gate; only execution kept failing.
		var fail *core.ExecutionFailure
		if errors.As(exhausted.LastErr, &fail) {
			return prediction{err: exhausted.LastErr, executed: true}, true
		}
	}
	r.fail(StatusFailGenerateOrGate, err)
	return prediction{}, false
}

func (h *Harness) execute(ctx context.Context, domain string, stmt guard.SafeStatement) (*core.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.runner.Execute(ctx, domain, stmt, stmt.Cap())
}

func (r *CaseResult) fail(status Status, err error) {
	r.Status = status
	r.Error = err.Error()

	var rej *guard.Rejection
	var fail *core.ExecutionFailure
	switch {
	case errors.As(err, &rej):
		r.Reason = string(rej.Reason)
	case errors.As(err, &fail):
		r.Reason = string(fail.Kind)
	}
}
