// Package engine runs the self-correcting question loop:
// GENERATE -> VALIDATE -> EXECUTE, feeding every rejection or execution
// failure back to the model until a statement executes or retries run out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/sqlpilot/internal/llm"
	"github.com/leapstack-labs/sqlpilot/internal/prompt"
	"github.com/leapstack-labs/sqlpilot/internal/retrieval"
	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// Defaults applied by New.
const (
	DefaultMaxRetries      = 2
	DefaultGenerateTimeout = 180 * time.Second
	DefaultExecuteTimeout  = 30 * time.Second
)

// Runner executes gated statements and knows the configured domains.
// *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, domain string, stmt guard.SafeStatement, rowCap int) (*core.Result, error)
	Target(domain string) (core.TargetConfig, bool)
}

// Config holds engine configuration.
type Config struct {
	Generator llm.Generator
	Runner    Runner

	// Retriever is optional; without it prompts carry no schema context.
	Retriever retrieval.Retriever
	TopK      int

	// MaxRetries is the number of correction rounds after the first attempt.
	// Negative means DefaultMaxRetries.
	MaxRetries int
	// MaxRows is the gate ceiling. Zero means guard.DefaultMaxRows.
	MaxRows int

	// ExamplesDir holds optional few-shot files named <domain>.txt.
	ExamplesDir string

	GenerateTimeout time.Duration
	ExecuteTimeout  time.Duration

	Logger *slog.Logger
}

// Engine answers questions against configured domains.
type Engine struct {
	gen        llm.Generator
	runner     Runner
	retriever  retrieval.Retriever
	topK       int
	maxRetries int
	maxRows    int
	examples   string
	genTimeout time.Duration
	exeTimeout time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	gates map[guard.Dialect]*guard.Gate
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Generator == nil {
		return nil, errors.New("engine: generator is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("engine: runner is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = guard.DefaultMaxRows
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = DefaultExecuteTimeout
	}

	return &Engine{
		gen:        cfg.Generator,
		runner:     cfg.Runner,
		retriever:  cfg.Retriever,
		topK:       cfg.TopK,
		maxRetries: cfg.MaxRetries,
		maxRows:    cfg.MaxRows,
		examples:   cfg.ExamplesDir,
		genTimeout: cfg.GenerateTimeout,
		exeTimeout: cfg.ExecuteTimeout,
		logger:     logger,
		gates:      make(map[guard.Dialect]*guard.Gate),
	}, nil
}

// MaxRetries returns the configured number of correction rounds.
func (e *Engine) MaxRetries() int { return e.maxRetries }

// Outcome is the result of a successful question.
type Outcome struct {
	Statement guard.SafeStatement
	Result    *core.Result
	// Context is the schema context the prompts were built with.
	Context  string
	Attempts []Attempt
}

// Ask answers question against domain. On failure the error is a
// *GenerationError (first generation failed), an *ExhaustedError, or a
// setup error (unknown domain, retrieval, cancelled context).
func (e *Engine) Ask(ctx context.Context, domain, question string) (*Outcome, error) {
	in, err := e.prepare(ctx, domain, question)
	if err != nil {
		return nil, err
	}
	return e.loop(ctx, in)
}

// Draft is one generated candidate and its validation result.
type Draft struct {
	Raw       string
	Candidate string
	Statement guard.SafeStatement
}

// Draft generates and validates a single statement without executing it or
// retrying. The returned Draft is filled as far as the pipeline got; the
// error is a *GenerationError, a *guard.Rejection or a setup error.
func (e *Engine) Draft(ctx context.Context, domain, question string) (Draft, error) {
	in, err := e.prepare(ctx, domain, question)
	if err != nil {
		return Draft{}, err
	}

	raw, err := e.generate(ctx, in.prompt)
	if err != nil {
		return Draft{}, &GenerationError{Attempt: 0, Err: err}
	}
	d := Draft{Raw: raw, Candidate: guard.Strip(raw)}
	d.Statement, err = in.gate.Validate(raw, e.maxRows)
	return d, err
}

func (e *Engine) prepare(ctx context.Context, domain, question string) (loopInput, error) {
	target, ok := e.runner.Target(domain)
	if !ok {
		return loopInput{}, &core.ExecutionFailure{
			Kind:    core.FailureUnknownDomain,
			Message: fmt.Sprintf("unknown domain %q", domain),
		}
	}

	chunks, err := e.Context(ctx, domain, question)
	if err != nil {
		return loopInput{}, err
	}
	examples, err := prompt.LoadExamples(e.examples, domain)
	if err != nil {
		return loopInput{}, err
	}

	label := DialectLabel(target)
	return loopInput{
		domain:   domain,
		question: question,
		label:    label,
		context:  prompt.SchemaContext(chunks),
		gate:     e.gate(adapter.DialectFor(target.Type)),
		prompt: prompt.Build(prompt.Request{
			Domain:   domain,
			Dialect:  label,
			Question: question,
			Chunks:   chunks,
			Examples: examples,
		}),
	}, nil
}

// Context retrieves the schema chunk texts used for question.
func (e *Engine) Context(ctx context.Context, domain, question string) ([]string, error) {
	if e.retriever == nil {
		return nil, nil
	}
	chunks, err := e.retriever.Retrieve(ctx, domain, question, e.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve schema context: %w", err)
	}
	return retrieval.Texts(chunks), nil
}

type loopInput struct {
	domain   string
	question string
	label    string
	context  string
	prompt   string
	gate     *guard.Gate
}

func (e *Engine) loop(ctx context.Context, in loopInput) (*Outcome, error) {
	var (
		history  []Attempt
		lastStmt string
		lastErr  error
		next     = in.prompt
	)

	correct := func(stmt string, cause error) string {
		return prompt.BuildCorrection(prompt.Correction{
			Domain:    in.domain,
			Dialect:   in.label,
			Question:  in.question,
			Context:   in.context,
			Statement: stmt,
			Error:     cause.Error(),
		})
	}

	for n := 0; n <= e.maxRetries; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("question cancelled after %d attempts: %w", len(history), err)
		}

		start := time.Now()
		log := e.logger.With(slog.String("domain", in.domain), slog.Int("attempt", n))

		raw, err := e.generate(ctx, next)
		if err != nil {
			genErr := &GenerationError{Attempt: n, Err: err}
			history = append(history, Attempt{Number: n, Stage: StageGenerate, Err: genErr, Duration: time.Since(start)})
			log.Warn("generation failed", slog.String("error", err.Error()))
			if n == 0 {
				return nil, genErr
			}
			// The next round reuses the last corrective prompt.
			lastErr = genErr
			continue
		}

		stmt, err := in.gate.Validate(raw, e.maxRows)
		if err != nil {
			candidate := guard.Strip(raw)
			history = append(history, Attempt{Number: n, Stage: StageValidate, Raw: raw, Statement: candidate, Err: err, Duration: time.Since(start)})
			log.Info("statement rejected", slog.String("reason", reasonOf(err)))
			lastStmt, lastErr = candidate, err
			next = correct(candidate, err)
			continue
		}

		result, err := e.execute(ctx, in.domain, stmt)
		history = append(history, Attempt{Number: n, Stage: StageExecute, Raw: raw, Statement: stmt.SQL(), Err: err, Duration: time.Since(start)})
		if err != nil {
			log.Info("execution failed", slog.String("reason", reasonOf(err)))
			lastStmt, lastErr = stmt.SQL(), err
			next = correct(stmt.SQL(), err)
			continue
		}

		log.Debug("statement executed", slog.Int("rows", result.NumRows()))
		return &Outcome{Statement: stmt, Result: result, Context: in.context, Attempts: history}, nil
	}

	return nil, &ExhaustedError{LastStatement: lastStmt, LastErr: lastErr, History: history}
}

func (e *Engine) generate(ctx context.Context, p string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	raw, err := e.gen.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", llm.ErrEmptyResponse
	}
	return raw, nil
}

func (e *Engine) execute(ctx context.Context, domain string, stmt guard.SafeStatement) (*core.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.exeTimeout)
	defer cancel()
	return e.runner.Execute(ctx, domain, stmt, stmt.Cap())
}

// gate returns the safety gate for a dialect, creating it on first use.
func (e *Engine) gate(d guard.Dialect) *guard.Gate {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.gates[d]
	if !ok {
		g = guard.New(guard.Options{Dialect: d, MaxRows: e.maxRows, Logger: e.logger})
		e.gates[d] = g
	}
	return g
}

// Gate returns the safety gate used for domain's statements.
func (e *Engine) Gate(domain string) (*guard.Gate, bool) {
	target, ok := e.runner.Target(domain)
	if !ok {
		return nil, false
	}
	return e.gate(adapter.DialectFor(target.Type)), true
}

// DialectLabel returns the dialect name used in prompts for target.
func DialectLabel(target core.TargetConfig) string {
	if target.Dialect != "" {
		return target.Dialect
	}
	if b, ok := adapter.Lookup(target.Type); ok {
		return b.Label
	}
	return prompt.DefaultDialect
}

func reasonOf(err error) string {
	var rej *guard.Rejection
	if errors.As(err, &rej) {
		return string(rej.Reason)
	}
	var fail *core.ExecutionFailure
	if errors.As(err, &fail) {
		return string(fail.Kind)
	}
	return err.Error()
}
