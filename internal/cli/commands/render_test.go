package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/internal/engine"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

func sampleResult() *core.Result {
	return &core.Result{
		Columns: []string{"id", "name", "note"},
		Rows: [][]any{
			{int64(1), "Ada", nil},
			{int64(2), []byte("Linus"), `says "hi", twice`},
		},
	}
}

func TestRenderResult(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		res     *core.Result
		want    []string
		notWant []string
	}{
		{
			name:   "table",
			format: FormatTable,
			res:    sampleResult(),
			want:   []string{"ID", "Ada", "Linus", "NULL", "(2 rows)"},
		},
		{
			name:   "csv escapes quotes and commas",
			format: FormatCSV,
			res:    sampleResult(),
			want:   []string{"id,name,note\n", "1,Ada,NULL\n", `2,Linus,"says ""hi"", twice"`},
		},
		{
			name:   "markdown",
			format: FormatMarkdown,
			res:    &core.Result{Columns: []string{"expr"}, Rows: [][]any{{"a|b"}}},
			want:   []string{"| expr |", "| --- |", `| a\|b |`},
		},
		{
			name:   "markdown alias",
			format: "markdown",
			res:    &core.Result{Columns: []string{"x"}, Rows: [][]any{{1}}},
			want:   []string{"| x |"},
		},
		{
			name:   "empty table",
			format: FormatTable,
			res:    &core.Result{Columns: []string{"x"}},
			want:   []string{"(0 rows)"},
		},
		{
			name:   "truncated",
			format: FormatCSV,
			res:    &core.Result{Columns: []string{"x"}, Rows: [][]any{{1}, {2}}, Truncated: true},
			want:   []string{"(truncated at 2 rows)"},
		},
		{
			name:    "auto on a buffer is markdown",
			format:  FormatAuto,
			res:     &core.Result{Columns: []string{"x"}, Rows: [][]any{{1}}},
			want:    []string{"| x |"},
			notWant: []string{"(1 rows)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderResult(&buf, tt.res, tt.format))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, buf.String(), nw)
			}
		})
	}
}

func TestRenderResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderResult(&buf, sampleResult(), FormatJSON))

	var records []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Linus", records[1]["name"], "byte slices are rendered as text")
	assert.Nil(t, records[0]["note"])

	buf.Reset()
	require.NoError(t, renderResult(&buf, nil, FormatJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "abc", formatValue([]byte("abc")))
	assert.Equal(t, "2024-03-01T12:00:00Z", formatValue(ts))
	assert.Equal(t, "3.5", formatValue(3.5))
}

func TestRenderAttempts(t *testing.T) {
	var buf bytes.Buffer
	renderAttempts(&buf, []engine.Attempt{
		{Number: 0, Stage: engine.StageValidate, Statement: "DELETE FROM t", Err: errors.New("rejected (NOT_READ_ONLY): DELETE")},
		{Number: 1, Stage: engine.StageExecute, Statement: "SELECT *\n  FROM t", Duration: 1500 * time.Microsecond},
	})

	out := buf.String()
	assert.Contains(t, out, "DELETE FROM t")
	assert.Contains(t, out, "NOT_READ_ONLY")
	assert.Contains(t, out, "SELECT * FROM t", "statements are collapsed to one line")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}
