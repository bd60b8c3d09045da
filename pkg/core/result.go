package core

import "strings"

// Result is a tabular query result: ordered column names and rows aligned to them.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`

	// Truncated is set when the backend had more rows than the fetch cap.
	Truncated bool `json:"truncated,omitempty"`
}

// NumRows returns the number of rows.
func (r *Result) NumRows() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// NumColumns returns the number of columns.
func (r *Result) NumColumns() int {
	if r == nil {
		return 0
	}
	return len(r.Columns)
}

// ColumnIndex returns the position of a column compared case-insensitively, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
