// Package adapter provides the database adapter interface used to run gated
// statements and read schema metadata.
//
// This package contains the public contract that all database adapters must implement.
// Concrete adapter implementations are in pkg/adapters/ subdirectories.
package adapter

import (
	"context"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// Type aliases for the core types adapters work with.
type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata
)

// Adapter defines the interface that all database adapters must implement.
// No method accepts unvalidated SQL text.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Query runs stmt on a dedicated connection and fetches at most
	// min(maxRows, stmt.Cap()) rows. maxRows <= 0 means stmt.Cap().
	Query(ctx context.Context, stmt guard.SafeStatement, maxRows int) (*core.Result, error)

	// ListTables returns the base tables and views of the configured schema.
	ListTables(ctx context.Context) ([]string, error)

	// GetTableMetadata retrieves metadata for a specified table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// ClassifyError maps a driver error to a failure kind.
	ClassifyError(err error) core.FailureKind

	// Dialect returns the gate dialect for statements sent to this adapter.
	Dialect() guard.Dialect
}
