package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func newAdapter(logger *slog.Logger) adapter.Adapter { return New(logger) }

func init() {
	adapter.Register("sqlite", adapter.Backend{Dialect: guard.DialectSQLite, Label: "SQLite", New: newAdapter})
}
