// Package postgres provides a PostgreSQL database adapter for sqlpilot.
//
// This file registers the PostgreSQL adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/sqlpilot/pkg/adapters/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func newAdapter(logger *slog.Logger) adapter.Adapter { return New(logger) }

func init() {
	adapter.Register("postgres", adapter.Backend{Dialect: guard.DialectPostgres, Label: "PostgreSQL", New: newAdapter})
}
