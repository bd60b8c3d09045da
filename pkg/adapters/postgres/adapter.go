// Package postgres provides a PostgreSQL database adapter for sqlpilot.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

const defaultSchema = "public"

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "postgres"
}

// Dialect returns the gate dialect.
func (a *Adapter) Dialect() guard.Dialect {
	return guard.DialectPostgres
}

// Connect establishes a connection to PostgreSQL. Sessions are opened with
// default_transaction_read_only=on.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		quoteValue(host), port, quoteValue(cfg.Database), quoteValue(sslmode))

	if cfg.Username != "" {
		dsn += " user=" + quoteValue(cfg.Username)
	}
	if cfg.Password != "" {
		dsn += " password=" + quoteValue(cfg.Password)
	}

	// Remaining options pass through as connection parameters, sorted for a stable DSN.
	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		if k != "sslmode" && k != "default_transaction_read_only" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += fmt.Sprintf(" %s=%s", k, quoteValue(cfg.Options[k]))
	}

	return dsn + " default_transaction_read_only=on"
}

// quoteValue quotes a DSN value containing spaces, quotes or backslashes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ListTables returns the tables and views of the configured schema.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	return a.ListTablesCommon(ctx, a.schema(), adapter.DollarPlaceholder)
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, a.schema(), adapter.DollarPlaceholder)
}

func (a *Adapter) schema() string {
	if a.Cfg.Schema != "" {
		return a.Cfg.Schema
	}
	return defaultSchema
}

// ClassifyError maps SQLSTATE codes to failure kinds.
func (a *Adapter) ClassifyError(err error) core.FailureKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return adapter.ClassifyCommon(err)
	}
	return classifySQLState(pgErr.Code, pgErr.Message)
}

func classifySQLState(code, message string) core.FailureKind {
	switch code {
	case "42601", "42P10":
		return core.FailureSyntax
	case "42P01", "42703", "42P02", "3F000", "42704":
		return core.FailureMissingObject
	case "42883":
		// undefined_function covers both missing functions and operator type mismatches.
		if strings.HasPrefix(message, "operator does not exist") {
			return core.FailureType
		}
		return core.FailureMissingObject
	case "42804", "42846", "42725", "22P02", "22003", "22007", "22008", "22023":
		return core.FailureType
	case "57014":
		return core.FailureTimeout
	case "42501", "25006":
		return core.FailureBackend
	}

	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "28"), code == "57P01", code == "53300":
		return core.FailureConnection
	case strings.HasPrefix(code, "42"):
		return core.FailureSyntax
	}
	return core.FailureBackend
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
