package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func TestBuildMySQLDSN(t *testing.T) {
	dsn := buildMySQLDSN(core.AdapterConfig{
		Host:     "db.internal",
		Port:     4000,
		Database: "shop",
		Username: "reader",
		Password: "p@ss word",
		Options:  map[string]string{"tls": "skip-verify", "max_execution_time": "5000"},
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "reader", parsed.User)
	assert.Equal(t, "p@ss word", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:4000", parsed.Addr)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "skip-verify", parsed.TLSConfig)
	assert.Equal(t, "5000", parsed.Params["max_execution_time"])
	assert.Equal(t, 10*time.Second, parsed.Timeout)
}

func TestBuildMySQLDSN_Defaults(t *testing.T) {
	parsed, err := mysql.ParseDSN(buildMySQLDSN(core.AdapterConfig{Database: "shop"}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3306", parsed.Addr)
	assert.Empty(t, parsed.Params)
}

func TestAdapter_ClassifyError(t *testing.T) {
	adp := New(nil)

	tests := []struct {
		name string
		err  error
		want core.FailureKind
	}{
		{"syntax", &mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"}, core.FailureSyntax},
		{"unknown table", &mysql.MySQLError{Number: 1146, Message: "Table 'shop.nope' doesn't exist"}, core.FailureMissingObject},
		{"unknown column", &mysql.MySQLError{Number: 1054, Message: "Unknown column 'x' in 'field list'"}, core.FailureMissingObject},
		{"truncated value", &mysql.MySQLError{Number: 1292, Message: "Truncated incorrect DOUBLE value"}, core.FailureType},
		{"execution time", &mysql.MySQLError{Number: 3024, Message: "maximum statement execution time exceeded"}, core.FailureTimeout},
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, core.FailureConnection},
		{"other server error", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, core.FailureBackend},
		{"wrapped", fmt.Errorf("failed to execute query: %w", &mysql.MySQLError{Number: 1146}), core.FailureMissingObject},
		{"invalid conn", mysql.ErrInvalidConn, core.FailureConnection},
		{"deadline", context.DeadlineExceeded, core.FailureTimeout},
		{"plain", errors.New("something odd"), core.FailureBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adp.ClassifyError(tt.err))
		})
	}
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	adp := New(nil)
	adp.DB = db
	adp.Cfg = core.AdapterConfig{Database: "shop"}

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("id", "int", "NO", 1).
			AddRow("customer_id", "int", "YES", 2))
	mock.ExpectQuery("PRIMARY KEY").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectQuery("referenced_table_name IS NOT NULL").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "referenced_table_name", "referenced_column_name"}).
			AddRow("customer_id", "customers", "id"))

	meta, err := adp.GetTableMetadata(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "shop", meta.Schema)
	assert.Equal(t, []string{"id"}, meta.PrimaryKey)
	assert.True(t, meta.Columns[0].PrimaryKey)
	assert.Equal(t, []core.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}}, meta.ForeignKeys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	adp := New(nil)
	adp.DB = db

	stmt, err := guard.New(guard.Options{Dialect: adp.Dialect(), MaxRows: 10}).Validate("SELECT id FROM orders", 0)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	res, err := adp.Query(context.Background(), stmt, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumRows())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Registry(t *testing.T) {
	for _, name := range []string{"mysql", "tidb"} {
		backend, ok := adapter.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, guard.DialectMySQL, backend.Dialect, name)
		a := backend.New(nil)
		assert.IsType(t, &Adapter{}, a)
		assert.Equal(t, backend.Dialect, a.Dialect())
	}
}
