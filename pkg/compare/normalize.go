// Package compare decides whether two query results give the same answer.
//
// Results are first normalized into an order-insensitive, type-insensitive
// table of strings; equality of normalized tables is the only definition of
// "same answer". A Checker applies a strict or lenient policy on top.
package compare

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// DefaultDecimals is the rounding precision of numeric columns.
const DefaultDecimals = 2

// NullText is the rendering of SQL NULL.
const NullText = "NULL"

// ErrRowWidth is returned when a row has a different number of cells than the result has columns.
var ErrRowWidth = errors.New("row width does not match column count")

// Options configures normalization.
type Options struct {
	// Decimals is the rounding precision of numeric columns. Negative values
	// select DefaultDecimals.
	Decimals int
}

// DefaultOptions returns the options used by the evaluation harness.
func DefaultOptions() Options {
	return Options{Decimals: DefaultDecimals}
}

func (o Options) decimals() int {
	if o.Decimals < 0 {
		return DefaultDecimals
	}
	return o.Decimals
}

// Normalized is a result reduced to its comparable form: lower-cased sorted
// column names and string cells, rows sorted by the full tuple.
type Normalized struct {
	Columns []string
	Rows    [][]string
}

// NumRows returns the number of rows.
func (n Normalized) NumRows() int { return len(n.Rows) }

// Equal reports whether two normalized tables are identical.
func (n Normalized) Equal(other Normalized) bool {
	if !slices.Equal(n.Columns, other.Columns) || len(n.Rows) != len(other.Rows) {
		return false
	}
	for i := range n.Rows {
		if !slices.Equal(n.Rows[i], other.Rows[i]) {
			return false
		}
	}
	return true
}

// Project returns the table restricted to cols, in the order given. Unknown
// columns are an error.
func (n Normalized) Project(cols []string) (Normalized, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = slices.Index(n.Columns, c)
		if idx[i] < 0 {
			return Normalized{}, fmt.Errorf("column %q not in result", c)
		}
	}

	out := Normalized{Columns: slices.Clone(cols), Rows: make([][]string, len(n.Rows))}
	for r, row := range n.Rows {
		projected := make([]string, len(idx))
		for i, j := range idx {
			projected[i] = row[j]
		}
		out.Rows[r] = projected
	}
	return out, nil
}

// Head returns the first n rows.
func (n Normalized) Head(rows int) Normalized {
	if rows >= len(n.Rows) {
		return n
	}
	return Normalized{Columns: n.Columns, Rows: n.Rows[:rows]}
}

// Normalize converts result into its comparable form.
func Normalize(result *core.Result, opts Options) (Normalized, error) {
	if result == nil {
		return Normalized{}, errors.New("nil result")
	}

	width := len(result.Columns)
	for i, row := range result.Rows {
		if len(row) != width {
			return Normalized{}, fmt.Errorf("row %d has %d cells, want %d: %w", i, len(row), width, ErrRowWidth)
		}
	}

	names := lowerUnique(result.Columns)

	// Column order after sorting by normalized name.
	order := make([]int, width)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return strings.Compare(names[a], names[b]) })

	decimals := opts.decimals()
	rendered := make([][]string, width)
	for c := range width {
		rendered[c] = renderColumn(result.Rows, c, decimals)
	}

	out := Normalized{Columns: make([]string, width), Rows: make([][]string, len(result.Rows))}
	for i, c := range order {
		out.Columns[i] = names[c]
	}
	for r := range result.Rows {
		row := make([]string, width)
		for i, c := range order {
			row[i] = rendered[c][r]
		}
		out.Rows[r] = row
	}

	if width > 0 && len(out.Rows) > 0 {
		slices.SortStableFunc(out.Rows, slices.Compare[[]string])
	}
	return out, nil
}

// lowerUnique lower-cases names and suffixes repeats with #2, #3 ... in order.
func lowerUnique(cols []string) []string {
	out := make([]string, len(cols))
	seen := make(map[string]int, len(cols))
	taken := make(map[string]bool, len(cols))
	for _, c := range cols {
		taken[strings.ToLower(c)] = true
	}
	for i, c := range cols {
		name := strings.ToLower(c)
		seen[name]++
		if n := seen[name]; n > 1 {
			candidate := fmt.Sprintf("%s#%d", name, n)
			for taken[candidate] {
				seen[name]++
				candidate = fmt.Sprintf("%s#%d", name, seen[name])
			}
			taken[candidate] = true
			name = candidate
		}
		out[i] = name
	}
	return out
}

// renderColumn stringifies column c. A column whose non-NULL cells are all
// numeric, with at least one such cell, is rounded.
func renderColumn(rows [][]any, c, decimals int) []string {
	out := make([]string, len(rows))

	numeric := false
	values := make([]number, len(rows))
	for r, row := range rows {
		if row[c] == nil {
			continue
		}
		n, ok := asNumber(row[c])
		if !ok {
			numeric = false
			break
		}
		values[r] = n
		numeric = true
	}

	for r, row := range rows {
		switch {
		case row[c] == nil:
			out[r] = NullText
		case numeric:
			out[r] = values[r].format(decimals)
		default:
			out[r] = Stringify(row[c])
		}
	}
	return out
}

// number holds an integer exactly when it fits, else a float.
type number struct {
	isInt bool
	i     *big.Int
	f     float64
}

func (n number) format(decimals int) string {
	if n.isInt {
		return n.i.String()
	}
	return FormatFloat(n.f, decimals)
}

func (n number) float() float64 {
	if n.isInt {
		f, _ := new(big.Float).SetInt(n.i).Float64()
		return f
	}
	return n.f
}

// FormatFloat rounds f half away from zero to decimals places and renders the
// shortest representation. Negative zero renders as 0.
func FormatFloat(f float64, decimals int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	scale := math.Pow10(decimals)
	rounded := math.Round(f*scale) / scale
	if math.IsInf(rounded, 0) || math.IsNaN(rounded) {
		rounded = f
	}
	if rounded == 0 {
		rounded = 0
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// asNumber reports whether v is a Go numeric value or a numeric string.
func asNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return intNumber(int64(x)), true
	case int8:
		return intNumber(int64(x)), true
	case int16:
		return intNumber(int64(x)), true
	case int32:
		return intNumber(int64(x)), true
	case int64:
		return intNumber(x), true
	case uint:
		return uintNumber(uint64(x)), true
	case uint8:
		return uintNumber(uint64(x)), true
	case uint16:
		return uintNumber(uint64(x)), true
	case uint32:
		return uintNumber(uint64(x)), true
	case uint64:
		return uintNumber(x), true
	case float32:
		return floatNumber(float64(x))
	case float64:
		return floatNumber(x)
	case *big.Int:
		if x == nil {
			return number{}, false
		}
		return number{isInt: true, i: x}, true
	case *big.Float:
		if x == nil {
			return number{}, false
		}
		f, _ := x.Float64()
		return floatNumber(f)
	case *big.Rat:
		if x == nil {
			return number{}, false
		}
		f, _ := x.Float64()
		return floatNumber(f)
	case string:
		return parseNumber(x)
	case []byte:
		return parseNumber(string(x))
	case interface{ Float64() float64 }:
		// driver decimal types
		return floatNumber(x.Float64())
	}
	return number{}, false
}

func intNumber(i int64) number   { return number{isInt: true, i: big.NewInt(i)} }
func uintNumber(u uint64) number { return number{isInt: true, i: new(big.Int).SetUint64(u)} }

func floatNumber(f float64) (number, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return number{}, false
	}
	return number{f: f}, true
}

// parseNumber accepts decimal integers and finite floats. Words such as "nan"
// or "inf" are text.
func parseNumber(s string) (number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return number{}, false
	}
	if i, ok := new(big.Int).SetString(s, 10); ok {
		return number{isInt: true, i: i}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return number{}, false
	}
	return floatNumber(f)
}

// Stringify renders a single non-numeric cell.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return NullText
	case string:
		return x
	case []byte:
		return string(bytes.ToValidUTF8(x, []byte("�")))
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
