package mysql

import (
	"log/slog"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

func newAdapter(logger *slog.Logger) adapter.Adapter { return New(logger) }

func init() {
	adapter.Register("mysql", adapter.Backend{Dialect: guard.DialectMySQL, Label: "MySQL", New: newAdapter})
	adapter.Register("tidb", adapter.Backend{Dialect: guard.DialectMySQL, Label: "TiDB", New: newAdapter})
}
