package guard

import (
	"log/slog"
)

// DefaultMaxRows is the row ceiling used when none is configured.
const DefaultMaxRows = 200

// SafeStatement is a statement that passed the gate: a single read-only query
// whose row cap does not exceed the gate's ceiling. The zero value is not safe;
// only Gate.Validate produces a non-zero SafeStatement.
type SafeStatement struct {
	sql     string
	cap     int
	dialect Dialect
}

// SQL returns the rewritten statement text.
func (s SafeStatement) SQL() string { return s.sql }

// Cap returns the effective row cap.
func (s SafeStatement) Cap() int { return s.cap }

// Dialect returns the dialect the statement was validated for.
func (s SafeStatement) Dialect() Dialect { return s.dialect }

// IsZero reports whether s was not produced by a gate.
func (s SafeStatement) IsZero() bool { return s.sql == "" }

func (s SafeStatement) String() string { return s.sql }

// Options configures a Gate.
type Options struct {
	Dialect Dialect
	// MaxRows is the ceiling for every statement. Zero means DefaultMaxRows.
	MaxRows int
	Logger  *slog.Logger
}

// Gate composes the statement classifier and the limit enforcer.
type Gate struct {
	classifier *Classifier
	ceiling    int
	logger     *slog.Logger
}

// New creates a gate for one dialect.
func New(opts Options) *Gate {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		classifier: NewClassifier(opts.Dialect),
		ceiling:    opts.MaxRows,
		logger:     opts.Logger,
	}
}

// Ceiling returns the configured maximum row cap.
func (g *Gate) Ceiling() int { return g.ceiling }

// Dialect returns the gate's dialect.
func (g *Gate) Dialect() Dialect { return g.classifier.dialect }

// Validate strips, classifies and limits candidate. maxRows above the ceiling
// is clamped to it; maxRows <= 0 uses the ceiling. A failed check returns a
// *Rejection.
func (g *Gate) Validate(candidate string, maxRows int) (SafeStatement, error) {
	if maxRows <= 0 || maxRows > g.ceiling {
		maxRows = g.ceiling
	}

	stmt, err := g.classifier.classify(Strip(candidate))
	if err != nil {
		g.logger.Debug("statement rejected", "error", err)
		return SafeStatement{}, err
	}

	text, limit := enforceLimit(stmt, maxRows)
	g.logger.Debug("statement accepted", "cap", limit)
	return SafeStatement{sql: text, cap: limit, dialect: g.classifier.dialect}, nil
}
