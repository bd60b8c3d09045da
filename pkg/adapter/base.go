package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// ErrNotConnected is returned by adapter methods called before Connect.
var ErrNotConnected = errors.New("database connection not established")

// ErrUnvalidated is returned when a zero SafeStatement reaches an adapter.
var ErrUnvalidated = errors.New("statement was not validated by the safety gate")

// Placeholder formats the n-th (1-based) bind parameter of a dialect.
type Placeholder func(n int) string

// DollarPlaceholder formats Postgres-style parameters ($1, $2, ...).
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuestionPlaceholder formats positional ? parameters.
func QuestionPlaceholder(int) string { return "?" }

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close and Query implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger

	// ForeignKeySQL replaces the information_schema foreign key lookup. It takes
	// schema and table parameters and selects column, referenced table and
	// referenced column.
	ForeignKeySQL string
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// Query runs stmt on a connection taken from the pool for this statement only.
// The connection is returned to the pool on every exit path.
func (b *BaseSQLAdapter) Query(ctx context.Context, stmt guard.SafeStatement, maxRows int) (*core.Result, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	if stmt.IsZero() {
		return nil, ErrUnvalidated
	}

	limit := stmt.Cap()
	if maxRows > 0 && maxRows < limit {
		limit = maxRows
	}

	conn, err := b.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, stmt.SQL())
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return ScanRows(rows, limit)
}

// ScanRows reads at most limit rows. Truncated is set when another row existed.
// []byte cells are converted to string.
func ScanRows(rows *sql.Rows, limit int) (*core.Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &core.Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(result.Rows) >= limit {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses defaultSchema if not specified.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, table
}

// ListTablesCommon lists base tables and views of schema via information_schema.tables.
func (b *BaseSQLAdapter) ListTablesCommon(ctx context.Context, schema string, ph Placeholder) ([]string, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}

	//nolint:gosec // Placeholders are safe - they come from the adapter
	query := fmt.Sprintf(`
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = %s AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name
	`, ph(1))

	rows, err := b.DB.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// GetTableMetadataCommon provides a shared implementation of GetTableMetadata.
// Columns come from information_schema.columns; primary and foreign keys from
// the constraint views. Key lookup failures are logged and ignored.
func (b *BaseSQLAdapter) GetTableMetadataCommon(ctx context.Context, table, defaultSchema string, ph Placeholder) (*core.TableMetadata, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}

	schema, tableName := ParseQualifiedName(table, defaultSchema)

	//nolint:gosec // Placeholders are safe - they come from the adapter
	query := fmt.Sprintf(`
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, ph(1), ph(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	meta := &core.TableMetadata{
		Schema:  schema,
		Name:    tableName,
		Columns: columns,
	}

	pk, err := b.primaryKey(ctx, schema, tableName, ph)
	if err != nil {
		b.logger().Debug("primary key lookup failed", "table", table, "error", err)
	}
	meta.PrimaryKey = pk
	for i := range meta.Columns {
		for _, name := range pk {
			if meta.Columns[i].Name == name {
				meta.Columns[i].PrimaryKey = true
			}
		}
	}

	fks, err := b.foreignKeys(ctx, schema, tableName, ph)
	if err != nil {
		b.logger().Debug("foreign key lookup failed", "table", table, "error", err)
	}
	meta.ForeignKeys = fks

	return meta, nil
}

func (b *BaseSQLAdapter) primaryKey(ctx context.Context, schema, table string, ph Placeholder) ([]string, error) {
	//nolint:gosec // Placeholders are safe - they come from the adapter
	query := fmt.Sprintf(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = %s AND tc.table_name = %s
		ORDER BY kcu.ordinal_position
	`, ph(1), ph(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (b *BaseSQLAdapter) foreignKeys(ctx context.Context, schema, table string, ph Placeholder) ([]core.ForeignKey, error) {
	query := b.ForeignKeySQL
	if query == "" {
		query = defaultForeignKeySQL(ph)
	}

	rows, err := b.DB.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fks []core.ForeignKey
	for rows.Next() {
		var fk core.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func defaultForeignKeySQL(ph Placeholder) string {
	//nolint:gosec // Placeholders are safe - they come from the adapter
	return fmt.Sprintf(`
		SELECT kcu.column_name, ref.table_name, ref.column_name
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
			ON rc.constraint_name = kcu.constraint_name
			AND rc.constraint_schema = kcu.constraint_schema
		JOIN information_schema.key_column_usage ref
			ON rc.unique_constraint_name = ref.constraint_name
			AND rc.unique_constraint_schema = ref.constraint_schema
			AND kcu.position_in_unique_constraint = ref.ordinal_position
		WHERE kcu.table_schema = %s AND kcu.table_name = %s
		ORDER BY kcu.ordinal_position
	`, ph(1), ph(2))
}

func (b *BaseSQLAdapter) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}
