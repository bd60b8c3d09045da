// Package prompt assembles the generation and correction prompts sent to the model.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ContextSeparator joins schema chunks in the schema context block.
const ContextSeparator = "\n\n---\n\n"

// NoContext replaces the schema context when retrieval found nothing.
const NoContext = "(no schema context found)"

// DefaultDialect is the dialect label used when a domain does not name one.
const DefaultDialect = "PostgreSQL"

// InsufficientSchema is the statement the model is told to return when the
// question cannot be answered from the schema context.
const InsufficientSchema = "SELECT 'INSUFFICIENT_SCHEMA' AS error;"

const rulesTemplate = `You are an expert Text-to-SQL assistant.

Your task:
Generate ONE %s SQL query that answers the user's question using the given schema context.

Hard Rules (must follow):
- Output ONLY the SQL query (no explanation, no markdown, no backticks).
- Produce EXACTLY ONE statement (SELECT or WITH only).
- Use ONLY table names and column names that appear in the Schema Context.
- DO NOT invent columns. If a needed column is not present, choose the closest valid column from the Schema Context.
- Use correct JOIN keys based on foreign keys; if foreign keys are not shown, join on matching *_id columns.
- Qualify columns with table aliases (e.g., c.customer_id).
- Avoid SELECT * unless the question explicitly asks for all fields.
- Always include ORDER BY when asking for top/bottom results.
- Always include LIMIT when returning rows (the safety gate will enforce it).

If the question cannot be answered using the Schema Context, output exactly:
` + InsufficientSchema + `
`

const fixRules = `You are an expert SQL debugger.

Task:
Fix the SQL query so it executes successfully and answers the question.

Rules:
- Output ONLY the corrected SQL (no markdown, no explanation).
- Produce exactly ONE statement (SELECT or WITH only).
- Use ONLY tables/columns that appear in the Schema Context.
- Do NOT invent columns. If a column does not exist, replace it with a valid one from schema.
- Keep the intent of the question.
- Ensure the final query includes LIMIT.
`

// Request holds everything an initial prompt is built from.
type Request struct {
	Domain   string
	Dialect  string
	Question string
	Chunks   []string

	// Examples is the few-shot block, usually loaded with LoadExamples.
	Examples string
}

// Correction holds everything a corrective prompt is built from.
type Correction struct {
	Domain   string
	Dialect  string
	Question string
	Context  string

	// Statement is the failing or rejected SQL.
	Statement string

	// Error is the execution error or rejection reason.
	Error string
}

// SchemaContext joins chunk texts, or returns NoContext when there are none.
func SchemaContext(chunks []string) string {
	var nonEmpty []string
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 0 {
		return NoContext
	}
	return strings.Join(nonEmpty, ContextSeparator)
}

// Build renders the initial generation prompt.
func Build(req Request) string {
	dialect := dialectOrDefault(req.Dialect)

	var b strings.Builder
	fmt.Fprintf(&b, rulesTemplate, dialect)
	b.WriteString("\n")
	fmt.Fprintf(&b, "SQL Dialect: %s\n", dialect)
	fmt.Fprintf(&b, "Domain: %s\n\n", req.Domain)
	if ex := strings.TrimSpace(req.Examples); ex != "" {
		fmt.Fprintf(&b, "Few-shot Examples (follow this style):\n%s\n", ex)
	}
	fmt.Fprintf(&b, "Schema Context:\n%s\n\n", SchemaContext(req.Chunks))
	fmt.Fprintf(&b, "User Question:\n%s\n\n", req.Question)
	b.WriteString("SQL:\n")
	return b.String()
}

// BuildCorrection renders the prompt asking the model to fix a statement.
func BuildCorrection(c Correction) string {
	context := c.Context
	if strings.TrimSpace(context) == "" {
		context = NoContext
	}

	var b strings.Builder
	b.WriteString(fixRules)
	b.WriteString("\n")
	fmt.Fprintf(&b, "SQL Dialect: %s\n", dialectOrDefault(c.Dialect))
	fmt.Fprintf(&b, "Domain: %s\n\n", c.Domain)
	fmt.Fprintf(&b, "Schema Context:\n%s\n\n", context)
	fmt.Fprintf(&b, "User Question:\n%s\n\n", c.Question)
	fmt.Fprintf(&b, "Bad SQL:\n%s\n\n", c.Statement)
	fmt.Fprintf(&b, "Database Error:\n%s\n\n", c.Error)
	b.WriteString("Corrected SQL:\n")
	return b.String()
}

// LoadExamples reads <dir>/<domain>.txt. A missing directory or file yields "".
func LoadExamples(dir, domain string) (string, error) {
	if dir == "" || domain == "" {
		return "", nil
	}
	if strings.ContainsAny(domain, `/\`) || domain == ".." {
		return "", fmt.Errorf("invalid domain name %q", domain)
	}

	data, err := os.ReadFile(filepath.Join(dir, domain+".txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read examples for %s: %w", domain, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func dialectOrDefault(d string) string {
	if strings.TrimSpace(d) == "" {
		return DefaultDialect
	}
	return d
}
