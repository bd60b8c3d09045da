package compare

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// Policy selects how tolerant equivalence is.
type Policy string

// Comparison policies.
const (
	// PolicyStrict requires identical column sets, row counts and rows.
	PolicyStrict Policy = "strict"

	// PolicyLenient compares 1x1 results as scalars and otherwise compares the
	// common columns over the shorter row count. An empty result that shares a
	// column with the other side is therefore equivalent to it.
	PolicyLenient Policy = "lenient"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyLenient

// ParsePolicy converts a configuration value to a Policy. Empty selects DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	}
	return "", fmt.Errorf("unknown comparison policy %q (want strict or lenient)", s)
}

// Verdict is the outcome of one comparison.
type Verdict struct {
	Equivalent bool

	// Indeterminate is set when the comparison itself failed. Equivalent is
	// always false in that case.
	Indeterminate bool

	// Reason describes why results differ or why the comparison failed.
	Reason string

	// Diff is a row-level diff of the compared tables when they differ.
	Diff string
}

// Checker compares predicted and gold results.
type Checker struct {
	policy Policy
	opts   Options
}

// NewChecker creates a checker. An empty policy selects DefaultPolicy.
func NewChecker(policy Policy, opts Options) *Checker {
	if policy == "" {
		policy = DefaultPolicy
	}
	return &Checker{policy: policy, opts: opts}
}

// Policy returns the checker's policy.
func (c *Checker) Policy() Policy { return c.policy }

// Equivalent reports whether predicted and gold give the same answer.
func (c *Checker) Equivalent(predicted, gold *core.Result) bool {
	return c.Check(predicted, gold).Equivalent
}

// Check compares predicted and gold. Errors and panics during comparison
// produce an indeterminate verdict; they never propagate.
func (c *Checker) Check(predicted, gold *core.Result) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = indeterminate(fmt.Errorf("panic during comparison: %v", r))
		}
	}()

	if predicted == nil || gold == nil {
		return indeterminate(errors.New("missing result"))
	}

	var err error
	switch c.policy {
	case PolicyStrict:
		v, err = c.strict(predicted, gold)
	case PolicyLenient:
		v, err = c.lenient(predicted, gold)
	default:
		err = fmt.Errorf("unknown comparison policy %q", c.policy)
	}
	if err != nil {
		return indeterminate(err)
	}
	return v
}

func indeterminate(err error) Verdict {
	return Verdict{Indeterminate: true, Reason: err.Error()}
}

func (c *Checker) strict(predicted, gold *core.Result) (Verdict, error) {
	a, b, err := c.normalizeBoth(predicted, gold)
	if err != nil {
		return Verdict{}, err
	}

	if !slices.Equal(a.Columns, b.Columns) {
		return Verdict{Reason: fmt.Sprintf("columns differ: %v vs %v", a.Columns, b.Columns)}, nil
	}
	if a.NumRows() != b.NumRows() {
		return Verdict{Reason: fmt.Sprintf("row counts differ: %d vs %d", a.NumRows(), b.NumRows())}, nil
	}
	return compareTables(a, b), nil
}

func (c *Checker) lenient(predicted, gold *core.Result) (Verdict, error) {
	if isScalar(predicted) && isScalar(gold) {
		return c.scalar(predicted.Rows[0][0], gold.Rows[0][0]), nil
	}

	a, b, err := c.normalizeBoth(predicted, gold)
	if err != nil {
		return Verdict{}, err
	}

	var common []string
	for _, col := range a.Columns {
		if slices.Contains(b.Columns, col) {
			common = append(common, col)
		}
	}
	if len(common) == 0 {
		return Verdict{Reason: fmt.Sprintf("no common columns: %v vs %v", a.Columns, b.Columns)}, nil
	}

	if a, err = a.Project(common); err != nil {
		return Verdict{}, err
	}
	if b, err = b.Project(common); err != nil {
		return Verdict{}, err
	}

	// Zero rows on either side truncates both to empty.
	n := min(a.NumRows(), b.NumRows())
	return compareTables(a.Head(n), b.Head(n)), nil
}

func (c *Checker) scalar(predicted, gold any) Verdict {
	pn, pok := asNumber(predicted)
	gn, gok := asNumber(gold)
	if pok && gok {
		d := c.opts.decimals()
		ps, gs := pn.format(d), gn.format(d)
		if !pn.isInt || !gn.isInt {
			ps, gs = FormatFloat(pn.float(), d), FormatFloat(gn.float(), d)
		}
		if ps == gs {
			return Verdict{Equivalent: true}
		}
		return Verdict{Reason: fmt.Sprintf("scalar values differ: %s vs %s", ps, gs)}
	}

	ps := strings.TrimSpace(Stringify(predicted))
	gs := strings.TrimSpace(Stringify(gold))
	if ps == gs {
		return Verdict{Equivalent: true}
	}
	return Verdict{Reason: fmt.Sprintf("scalar values differ: %q vs %q", ps, gs)}
}

func (c *Checker) normalizeBoth(predicted, gold *core.Result) (Normalized, Normalized, error) {
	a, err := Normalize(predicted, c.opts)
	if err != nil {
		return Normalized{}, Normalized{}, fmt.Errorf("normalize predicted: %w", err)
	}
	b, err := Normalize(gold, c.opts)
	if err != nil {
		return Normalized{}, Normalized{}, fmt.Errorf("normalize gold: %w", err)
	}
	return a, b, nil
}

func compareTables(a, b Normalized) Verdict {
	if a.Equal(b) {
		return Verdict{Equivalent: true}
	}
	return Verdict{
		Reason: "rows differ",
		Diff:   cmp.Diff(b.Rows, a.Rows),
	}
}

func isScalar(r *core.Result) bool {
	return len(r.Columns) == 1 && len(r.Rows) == 1 && len(r.Rows[0]) == 1
}
