// Package mysql provides a MySQL (and TiDB) database adapter for sqlpilot.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// foreignKeySQL uses the MySQL extension columns of key_column_usage.
const foreignKeySQL = `
	SELECT column_name, referenced_table_name, referenced_column_name
	FROM information_schema.key_column_usage
	WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
	ORDER BY ordinal_position
`

// Adapter implements the adapter.Adapter interface for MySQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new MySQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger, ForeignKeySQL: foreignKeySQL},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "mysql"
}

// Dialect returns the gate dialect.
func (a *Adapter) Dialect() guard.Dialect {
	return guard.DialectMySQL
}

// Connect establishes a connection to MySQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildMySQLDSN(cfg)

	a.Logger.Debug("connecting to mysql", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open mysql connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping mysql: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildMySQLDSN constructs a go-sql-driver DSN. Options become session
// variables, except "tls" which selects the TLS config.
func buildMySQLDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = 10 * time.Second

	for k, v := range cfg.Options {
		if k == "tls" {
			mc.TLSConfig = v
			continue
		}
		if mc.Params == nil {
			mc.Params = make(map[string]string)
		}
		mc.Params[k] = v
	}

	return mc.FormatDSN()
}

// ListTables returns the tables and views of the configured database.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	return a.ListTablesCommon(ctx, a.schema(), adapter.QuestionPlaceholder)
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, a.schema(), adapter.QuestionPlaceholder)
}

func (a *Adapter) schema() string {
	if a.Cfg.Schema != "" {
		return a.Cfg.Schema
	}
	return a.Cfg.Database
}

// ClassifyError maps MySQL error numbers to failure kinds.
func (a *Adapter) ClassifyError(err error) core.FailureKind {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return core.FailureConnection
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return adapter.ClassifyCommon(err)
	}
	return classifyNumber(mysqlErr.Number)
}

func classifyNumber(number uint16) core.FailureKind {
	switch number {
	case 1064, 1149, 1222:
		// parse error, generic syntax error, set operation column count mismatch
		return core.FailureSyntax
	case 1146, 1054, 1305, 1049, 1109, 1051:
		// unknown table, column, function, database
		return core.FailureMissingObject
	case 1292, 1366, 1367, 1690, 3140:
		// truncated or incorrect value, out of range, invalid JSON
		return core.FailureType
	case 3024, 1317, 1028:
		// max_execution_time exceeded, query interrupted
		return core.FailureTimeout
	case 1040, 1045, 1044, 1129, 1130, 2002, 2003, 2006, 2013:
		return core.FailureConnection
	}
	return core.FailureBackend
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
