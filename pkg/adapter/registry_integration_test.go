package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/sqlite"
)

func TestDuckDBSelfRegistration(t *testing.T) {
	// DuckDB should be auto-registered via init()
	assert.True(t, adapter.IsRegistered("duckdb"), "duckdb adapter should be auto-registered")
}

func TestListAdapters(t *testing.T) {
	adapters := adapter.ListAdapters()

	for _, name := range []string{"duckdb", "mysql", "postgres", "sqlite", "tidb"} {
		assert.Contains(t, adapters, name, "%s should be in adapter list", name)
	}
}

func TestIsRegistered(t *testing.T) {
	tests := []struct {
		name        string
		adapterName string
		expected    bool
	}{
		{"duckdb registered", "duckdb", true},
		{"postgres registered", "postgres", true},
		{"sqlite registered", "sqlite", true},
		{"mysql registered", "mysql", true},
		{"unknown not registered", "unknown_db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapter.IsRegistered(tt.adapterName)
			assert.Equal(t, tt.expected, got, "IsRegistered(%q)", tt.adapterName)
		})
	}
}

func TestLookup(t *testing.T) {
	backend, ok := adapter.Lookup("DuckDB")
	require.True(t, ok, "lookup ignores case")
	require.NotNil(t, backend.New)
	assert.Equal(t, "duckdb", backend.Type)
	assert.Equal(t, guard.DialectDuckDB, backend.Dialect)
	assert.Equal(t, "DuckDB", backend.Label)

	_, ok = adapter.Lookup("nonexistent")
	assert.False(t, ok, "Lookup(nonexistent) should return false")
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		typ  string
		want guard.Dialect
	}{
		{"postgres", guard.DialectPostgres},
		{"tidb", guard.DialectMySQL},
		{"sqlite", guard.DialectSQLite},
		{"duckdb", guard.DialectDuckDB},
		{"mariadb", guard.DialectMySQL}, // unregistered, parsed from the name
		{"redshift", guard.DialectPostgres},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, adapter.DialectFor(tt.typ), tt.typ)
	}
}

func TestNewAdapter_Success(t *testing.T) {
	cfg := core.AdapterConfig{
		Type: "duckdb",
		Path: ":memory:",
	}

	adp, err := adapter.NewAdapter(cfg, nil)
	require.NoError(t, err, "NewAdapter(duckdb) failed")
	require.NotNil(t, adp, "NewAdapter(duckdb) returned nil adapter")
}

func TestNewAdapter_UnknownType(t *testing.T) {
	cfg := core.AdapterConfig{
		Type: "unknown_adapter",
	}

	_, err := adapter.NewAdapter(cfg, nil)
	require.Error(t, err, "NewAdapter(unknown_adapter) should fail")

	// Check error type
	var unknownErr *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknownErr)

	assert.Equal(t, "unknown_adapter", unknownErr.Type, "error type")

	// Available should include duckdb
	assert.Contains(t, unknownErr.Available, "duckdb", "Available adapters should include duckdb")
	assert.Equal(t, guard.DialectMySQL, unknownErr.Dialects["tidb"])
	assert.Contains(t, err.Error(), "tidb (mysql dialect)")
	assert.NotContains(t, err.Error(), "duckdb (")
}
