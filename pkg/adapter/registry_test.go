package adapter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "fake_db",
		Available: []string{"duckdb", "postgres"},
	}

	msg := err.Error()

	// Check that error message contains important info
	assert.NotEmpty(t, msg, "error message should not be empty")

	// Should mention the type
	assert.Contains(t, msg, "fake_db", "error should mention the unknown type 'fake_db'")

	// Should hint about config
	assert.Contains(t, msg, "sqlpilot.yaml", "error should mention config file")
}

func TestRegister(t *testing.T) {
	Register("Test_Adapter_Internal", Backend{New: func(_ *slog.Logger) Adapter { return nil }})

	assert.True(t, IsRegistered("test_adapter_internal"), "test_adapter_internal should be registered after Register()")

	backend, ok := Lookup("test_adapter_internal")
	require.True(t, ok, "Lookup(test_adapter_internal) should return true after Register()")
	assert.NotNil(t, backend.New)
	assert.Equal(t, "test_adapter_internal", backend.Type, "type is stored lower-cased")
	assert.Equal(t, guard.DialectPostgres, backend.Dialect, "dialect defaults from the type name")
	assert.Equal(t, "test_adapter_internal", backend.Label)
	assert.Equal(t, guard.DialectPostgres, DialectFor("test_adapter_internal"))
}

func TestRegister_NilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() { Register("broken", Backend{}) })
	assert.False(t, IsRegistered("broken"))
}

func TestUnknownAdapterError_ListsDialects(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "oracle",
		Available: []string{"postgres", "tidb"},
		Dialects:  map[string]guard.Dialect{"postgres": guard.DialectPostgres, "tidb": guard.DialectMySQL},
	}
	assert.Contains(t, err.Error(), "Available adapters: postgres, tidb (mysql dialect)")
}

func TestNewAdapter_EmptyType(t *testing.T) {
	cfg := Config{
		Type: "",
	}

	_, err := NewAdapter(cfg, nil)
	require.Error(t, err, "NewAdapter with empty type should fail")
	assert.Equal(t, "adapter type not specified", err.Error(), "error message")
}
