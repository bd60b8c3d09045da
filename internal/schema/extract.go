package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// MetadataSource is the part of an adapter schema extraction reads.
type MetadataSource interface {
	ListTables(ctx context.Context) ([]string, error)
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// Extract reads the schema of a live domain. Tables whose metadata cannot be
// read are logged and skipped.
func Extract(ctx context.Context, src MetadataSource, domain string, logger *slog.Logger) (*Schema, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	names, err := src.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", domain, err)
	}

	s := &Schema{Domain: domain, Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta, err := src.GetTableMetadata(ctx, name)
		if err != nil {
			logger.Warn("skipping table", "domain", domain, "table", name, "error", err)
			continue
		}
		s.Tables = append(s.Tables, FromMetadata(meta))
	}

	logger.Debug("schema extracted", "domain", domain, "tables", len(s.Tables))
	return s, nil
}

// FromMetadata converts adapter metadata into a canonical table.
func FromMetadata(meta *core.TableMetadata) Table {
	t := Table{Name: meta.Name, PrimaryKey: meta.PrimaryKey}
	for _, c := range meta.Columns {
		t.Columns = append(t.Columns, Column{Name: c.Name, Type: c.Type, PrimaryKey: c.PrimaryKey})
	}
	for _, fk := range meta.ForeignKeys {
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{Column: fk.Column, RefTable: fk.RefTable, RefColumn: fk.RefColumn})
	}
	return t
}
