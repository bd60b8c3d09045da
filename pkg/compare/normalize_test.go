package compare

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

func result(cols []string, rows ...[]any) *core.Result {
	if rows == nil {
		rows = [][]any{}
	}
	return &core.Result{Columns: cols, Rows: rows}
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   *core.Result
		want Normalized
	}{
		{
			name: "columns lower-cased and sorted",
			in:   result([]string{"Name", "ID"}, []any{"ada", int64(1)}),
			want: Normalized{Columns: []string{"id", "name"}, Rows: [][]string{{"1", "ada"}}},
		},
		{
			name: "rows sorted by full tuple",
			in: result([]string{"a", "b"},
				[]any{"y", "1"},
				[]any{"x", "2"},
				[]any{"x", "1"}),
			want: Normalized{Columns: []string{"a", "b"}, Rows: [][]string{{"x", "1"}, {"x", "2"}, {"y", "1"}}},
		},
		{
			name: "numeric column rounded to shortest form",
			in:   result([]string{"total"}, []any{9.5}, []any{20.256}, []any{3.0}),
			want: Normalized{Columns: []string{"total"}, Rows: [][]string{{"20.26"}, {"3"}, {"9.5"}}},
		},
		{
			name: "numeric strings are numeric",
			in:   result([]string{"amount"}, []any{"10.500"}, []any{[]byte("2")}),
			want: Normalized{Columns: []string{"amount"}, Rows: [][]string{{"10.5"}, {"2"}}},
		},
		{
			name: "mixed column is text",
			in:   result([]string{"v"}, []any{"10.500"}, []any{"n/a"}),
			want: Normalized{Columns: []string{"v"}, Rows: [][]string{{"10.500"}, {"n/a"}}},
		},
		{
			name: "nulls do not make a column non-numeric",
			in:   result([]string{"v"}, []any{nil}, []any{1.239}),
			want: Normalized{Columns: []string{"v"}, Rows: [][]string{{"1.24"}, {"NULL"}}},
		},
		{
			name: "all-null column is text",
			in:   result([]string{"v"}, []any{nil}),
			want: Normalized{Columns: []string{"v"}, Rows: [][]string{{"NULL"}}},
		},
		{
			name: "time bool and bytes",
			in:   result([]string{"at", "flag", "raw"}, []any{ts, true, []byte("abc")}),
			want: Normalized{Columns: []string{"at", "flag", "raw"}, Rows: [][]string{{"2024-03-01T11:30:00Z", "true", "abc"}}},
		},
		{
			name: "large integers kept exact",
			in:   result([]string{"n"}, []any{int64(9007199254740993)}, []any{uint64(18446744073709551615)}),
			want: Normalized{Columns: []string{"n"}, Rows: [][]string{{"18446744073709551615"}, {"9007199254740993"}}},
		},
		{
			name: "big numbers",
			in:   result([]string{"n"}, []any{big.NewInt(7)}, []any{big.NewRat(1, 3)}),
			want: Normalized{Columns: []string{"n"}, Rows: [][]string{{"0.33"}, {"7"}}},
		},
		{
			name: "duplicate names disambiguated in column order",
			in:   result([]string{"ID", "id", "Id"}, []any{1, 2, 3}),
			want: Normalized{Columns: []string{"id", "id#2", "id#3"}, Rows: [][]string{{"1", "2", "3"}}},
		},
		{
			name: "duplicate suffix skips existing name",
			in:   result([]string{"x", "X", "x#2"}, []any{1, 2, 3}),
			want: Normalized{Columns: []string{"x", "x#2", "x#3"}, Rows: [][]string{{"1", "3", "2"}}},
		},
		{
			name: "empty rows",
			in:   result([]string{"B", "a"}),
			want: Normalized{Columns: []string{"a", "b"}, Rows: [][]string{}},
		},
		{
			name: "no columns",
			in:   result([]string{}),
			want: Normalized{Columns: []string{}, Rows: [][]string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, DefaultOptions())
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_RoundingBoundary(t *testing.T) {
	a, err := Normalize(result([]string{"x"}, []any{1.005}), DefaultOptions())
	require.NoError(t, err)
	b, err := Normalize(result([]string{"x"}, []any{1.004999}), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "%v vs %v", a.Rows, b.Rows)
}

func TestNormalize_RowPermutationInvariant(t *testing.T) {
	rows := [][]any{{"a", 1}, {"b", 2}, {"c", 3}, {"a", 4}}
	perm := [][]any{rows[3], rows[1], rows[0], rows[2]}

	a, err := Normalize(result([]string{"k", "v"}, rows...), DefaultOptions())
	require.NoError(t, err)
	b, err := Normalize(result([]string{"v", "K"}, swap(perm)...), DefaultOptions())
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("permuted results differ (-a +b):\n%s", diff)
	}
}

func swap(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r[1], r[0]}
	}
	return out
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize(nil, DefaultOptions())
	require.Error(t, err)

	_, err = Normalize(result([]string{"a", "b"}, []any{1}), DefaultOptions())
	require.ErrorIs(t, err, ErrRowWidth)
}

func TestNormalize_Decimals(t *testing.T) {
	got, err := Normalize(result([]string{"x"}, []any{2.71828}), Options{Decimals: 4})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2.7183"}}, got.Rows)

	got, err = Normalize(result([]string{"x"}, []any{2.71828}), Options{Decimals: -1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2.72"}}, got.Rows)
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		d    int
		want string
	}{
		{1.005, 2, "1"},
		{2.5, 0, "3"},
		{-2.5, 0, "-3"},
		{-0.001, 2, "0"},
		{100, 2, "100"},
		{0.125, 2, "0.13"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFloat(tt.in, tt.d), "FormatFloat(%v, %d)", tt.in, tt.d)
	}
}

func TestNormalized_ProjectHead(t *testing.T) {
	n := Normalized{Columns: []string{"a", "b", "c"}, Rows: [][]string{{"1", "2", "3"}, {"4", "5", "6"}}}

	p, err := n.Project([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "1"}, {"6", "4"}}, p.Rows)
	assert.Equal(t, 1, p.Head(1).NumRows())
	assert.Equal(t, 2, p.Head(10).NumRows())

	_, err = n.Project([]string{"z"})
	assert.Error(t, err)
}
