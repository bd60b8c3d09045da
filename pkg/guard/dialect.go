package guard

import "strings"

// Dialect is the backend family a statement is validated for.
type Dialect string

// Supported dialects. Values match the adapter type names.
const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps an adapter type or prompt label ("PostgreSQL", "MySQL") to a
// Dialect. Unknown names fall back to postgres lexical rules.
func ParseDialect(name string) Dialect {
	switch n := strings.ToLower(strings.TrimSpace(name)); {
	case strings.HasPrefix(n, "postgres"), n == "pg", n == "pgx":
		return DialectPostgres
	case n == "duckdb":
		return DialectDuckDB
	case strings.HasPrefix(n, "sqlite"):
		return DialectSQLite
	case n == "mysql", n == "mariadb", n == "tidb":
		return DialectMySQL
	default:
		return DialectPostgres
	}
}

// IsMySQL reports whether d follows MySQL lexical and grammar rules.
func (d Dialect) IsMySQL() bool {
	return d == DialectMySQL
}

func (d Dialect) scanOptions() ScanOptions {
	if d.IsMySQL() {
		return ScanOptions{BackslashEscapes: true, HashComments: true}
	}
	return ScanOptions{}
}
