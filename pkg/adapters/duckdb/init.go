// Package duckdb provides a DuckDB database adapter for sqlpilot.
//
// This file registers the DuckDB adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/sqlpilot/pkg/adapters/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func newAdapter(logger *slog.Logger) adapter.Adapter { return New(logger) }

func init() {
	adapter.Register("duckdb", adapter.Backend{Dialect: guard.DialectDuckDB, Label: "DuckDB", New: newAdapter})
}
