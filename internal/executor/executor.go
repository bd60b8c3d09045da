// Package executor runs gated statements against logical domains.
//
// A domain is a configured database target. Adapters are created and connected
// on first use and shared by every later statement against the same domain;
// each statement still runs on its own pooled connection. Concurrent first uses
// of one domain share a single connect, and connects of different domains do
// not wait on each other.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// DefaultTimeout bounds a single statement when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// OpenFunc creates an unconnected adapter for cfg.
type OpenFunc func(cfg core.AdapterConfig, logger *slog.Logger) (adapter.Adapter, error)

// Options configures an Executor.
type Options struct {
	Domains map[string]core.TargetConfig
	Timeout time.Duration
	Logger  *slog.Logger

	// Open defaults to adapter.NewAdapter.
	Open OpenFunc
}

// UnknownDomainError is returned when a statement names a domain that is not configured.
type UnknownDomainError struct {
	Name      string
	Available []string
}

func (e *UnknownDomainError) Error() string {
	return fmt.Sprintf("unknown domain %q\nAvailable domains: %v\nHint: Add domains.%s to sqlpilot.yaml", e.Name, e.Available, e.Name)
}

// ConnectError is returned when a domain's adapter cannot be created or connected.
type ConnectError struct {
	Domain string
	Kind   core.FailureKind
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect domain %s: %v", e.Domain, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Executor resolves domains to adapters and executes SafeStatements.
type Executor struct {
	domains map[string]core.TargetConfig
	timeout time.Duration
	logger  *slog.Logger
	open    OpenFunc

	connecting singleflight.Group

	mu       sync.Mutex
	adapters map[string]adapter.Adapter
}

// New creates an executor. No connection is made until a domain is used.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	open := opts.Open
	if open == nil {
		open = adapter.NewAdapter
	}
	domains := make(map[string]core.TargetConfig, len(opts.Domains))
	for name, target := range opts.Domains {
		domains[name] = target
	}
	return &Executor{
		domains:  domains,
		timeout:  timeout,
		logger:   logger,
		open:     open,
		adapters: make(map[string]adapter.Adapter),
	}
}

// Domains returns the configured domain names, sorted.
func (e *Executor) Domains() []string {
	names := make([]string, 0, len(e.domains))
	for name := range e.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Target returns the configuration of a domain.
func (e *Executor) Target(domain string) (core.TargetConfig, bool) {
	t, ok := e.domains[domain]
	return t, ok
}

// Adapter returns the connected adapter of a domain, connecting it on first use.
func (e *Executor) Adapter(ctx context.Context, domain string) (adapter.Adapter, error) {
	target, ok := e.domains[domain]
	if !ok {
		return nil, &UnknownDomainError{Name: domain, Available: e.Domains()}
	}

	if adp, ok := e.connected(domain); ok {
		return adp, nil
	}

	// The shared connect outlives a caller that gives up; it is bounded by the timeout.
	ch := e.connecting.DoChan(domain, func() (any, error) {
		return e.connect(context.WithoutCancel(ctx), domain, target)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(adapter.Adapter), nil
	case <-ctx.Done():
		return nil, &ConnectError{Domain: domain, Kind: core.FailureTimeout, Err: ctx.Err()}
	}
}

func (e *Executor) connected(domain string) (adapter.Adapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	adp, ok := e.adapters[domain]
	return adp, ok
}

func (e *Executor) connect(ctx context.Context, domain string, target core.TargetConfig) (adapter.Adapter, error) {
	if adp, ok := e.connected(domain); ok {
		return adp, nil
	}

	cfg := target.AdapterConfig()
	adp, err := e.open(cfg, e.logger.With("domain", domain))
	if err != nil {
		return nil, &ConnectError{Domain: domain, Kind: core.FailureConnection, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	if err := adp.Connect(ctx, cfg); err != nil {
		kind := core.FailureConnection
		if ctx.Err() != nil || adapter.ClassifyCommon(err) == core.FailureTimeout {
			kind = core.FailureTimeout
		}
		e.logger.Debug("domain connect failed", "domain", domain, "kind", kind, "duration", time.Since(start), "error", err)
		return nil, &ConnectError{Domain: domain, Kind: kind, Err: err}
	}

	e.logger.Debug("domain connected", "domain", domain, "type", cfg.Type, "duration", time.Since(start))
	e.mu.Lock()
	e.adapters[domain] = adp
	e.mu.Unlock()
	return adp, nil
}

// Execute runs stmt against domain and returns at most min(rowCap, stmt.Cap())
// rows. Every error is a *core.ExecutionFailure.
func (e *Executor) Execute(ctx context.Context, domain string, stmt guard.SafeStatement, rowCap int) (*core.Result, error) {
	if stmt.IsZero() {
		return nil, core.NewExecutionFailure(core.FailureBackend, adapter.ErrUnvalidated)
	}

	adp, err := e.Adapter(ctx, domain)
	if err != nil {
		var unknown *UnknownDomainError
		if errors.As(err, &unknown) {
			return nil, core.NewExecutionFailure(core.FailureUnknownDomain, err)
		}
		var connErr *ConnectError
		if errors.As(err, &connErr) {
			return nil, core.NewExecutionFailure(connErr.Kind, err)
		}
		return nil, core.NewExecutionFailure(core.FailureConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := adp.Query(ctx, stmt, rowCap)
	if err != nil {
		kind := adp.ClassifyError(err)
		if ctx.Err() != nil {
			kind = core.FailureTimeout
		}
		e.logger.Debug("statement failed",
			"domain", domain,
			"kind", kind,
			"duration", time.Since(start),
			"error", err)
		return nil, core.NewExecutionFailure(kind, err)
	}

	e.logger.Debug("statement executed",
		"domain", domain,
		"rows", result.NumRows(),
		"truncated", result.Truncated,
		"duration", time.Since(start))
	return result, nil
}

// Close closes every connected adapter.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, adp := range e.adapters {
		if err := adp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close domain %s: %w", name, err))
		}
		delete(e.adapters, name)
	}
	return errors.Join(errs...)
}
