package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "  SELECT 1  ", "SELECT 1"},
		{"fenced with info", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"fenced without info", "```\nSELECT 1;\n```", "SELECT 1;"},
		{"fence on same line", "```SELECT 1```", "SELECT 1"},
		{"unclosed fence", "```sql\nSELECT 1", "SELECT 1"},
		{"explanation then fence", "Here is the query:\n```postgresql\nSELECT a FROM t\n```\nIt returns a.", "SELECT a FROM t"},
		{"SQL label", "SQL: SELECT 1", "SELECT 1"},
		{"SQLQuery label", "SQLQuery: SELECT 1", "SELECT 1"},
		{"Query label lower", "query:SELECT 1", "SELECT 1"},
		{"label inside fence", "```\nSQL: SELECT 1\n```", "SELECT 1"},
		{"stacked labels", "Answer: SQL: SELECT 1", "SELECT 1"},
		{"keyword on fence line", "```select\n1```", "select\n1"},
		{"info on fence line", "```sql SELECT 1```", "SELECT 1"},
		{"prose lead-in", "Here is the SQL query:\nSELECT 1", "SELECT 1"},
		{"several lead-in lines", "Sure.\nThe query below counts rows.\n\nWITH c AS (SELECT 1) SELECT * FROM c", "WITH c AS (SELECT 1) SELECT * FROM c"},
		{"lead-in before paren", "Result:\n(SELECT 1) UNION (SELECT 2)", "(SELECT 1) UNION (SELECT 2)"},
		{"write line kept", "DELETE FROM t\nSELECT 1", "DELETE FROM t\nSELECT 1"},
		{"no statement line", "I cannot answer that.\nSorry.", "I cannot answer that.\nSorry."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.input))
		})
	}
}
