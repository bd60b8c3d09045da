// Package schema normalizes schema documents and live database metadata into
// one canonical form and renders it as retrieval chunks.
//
// Three document shapes are accepted, in JSON or YAML:
//
//	tables: [{table: orders, columns: [...], primary_key: [...], foreign_keys: [...]}]
//	tables: {orders: {columns: [...], ...}}
//	orders: [id, customer_id]          # or orders: {id: int, customer_id: int}
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column is one table column.
type Column struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	PrimaryKey bool   `json:"pk,omitempty" yaml:"pk,omitempty"`
}

// ForeignKey is one referencing column.
type ForeignKey struct {
	Column    string `json:"column" yaml:"column"`
	RefTable  string `json:"ref_table" yaml:"ref_table"`
	RefColumn string `json:"ref_column" yaml:"ref_column"`
}

// Table is the canonical description of one table.
type Table struct {
	Name        string       `json:"table" yaml:"table"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Columns     []Column     `json:"columns" yaml:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
}

// Schema is the canonical schema of one domain.
type Schema struct {
	Domain string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Tables []Table `json:"tables" yaml:"tables"`
}

// reservedKeys are top-level keys that never name a table in the flat shape.
var reservedKeys = map[string]bool{"db": true, "database": true, "domain": true, "meta": true}

// ErrUnsupportedFormat is returned for documents that match no known shape.
var ErrUnsupportedFormat = errors.New("unsupported schema format: expected a mapping with tables")

// ErrInvalidPrimaryKey is returned when a column's pk flag is not a boolean.
var ErrInvalidPrimaryKey = errors.New("invalid pk value: expected true or false")

// Load reads and parses a schema file. An empty domain is filled from the
// file name without extension.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Domain == "" {
		base := filepath.Base(path)
		s.Domain = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return s, nil
}

// Parse normalizes a JSON or YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrUnsupportedFormat
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, ErrUnsupportedFormat
	}

	s := &Schema{}
	var errs []error
	add := func(t Table, err error) {
		s.Tables = append(s.Tables, t)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if d := get(root, "domain"); d != nil && d.Kind == yaml.ScalarNode {
		s.Domain = d.Value
	}

	tables := get(root, "tables")
	switch {
	case tables != nil && tables.Kind == yaml.SequenceNode:
		for _, n := range tables.Content {
			if n.Kind != yaml.MappingNode {
				continue
			}
			add(tableFromInfo(scalar(get(n, "table", "name", "table_name")), n))
		}
	case tables != nil && tables.Kind == yaml.MappingNode:
		eachPair(tables, func(key string, info *yaml.Node) {
			add(tableFromInfo(key, info))
		})
	default:
		eachPair(root, func(key string, info *yaml.Node) {
			if reservedKeys[key] || key == "tables" {
				return
			}
			add(flatTable(key, info))
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for i := range s.Tables {
		if s.Tables[i].Name == "" {
			s.Tables[i].Name = fmt.Sprintf("table_%d", i)
		}
		s.Tables[i].markPrimaryKey()
	}
	return s, nil
}

// tableFromInfo reads the structured table shape.
func tableFromInfo(name string, info *yaml.Node) (Table, error) {
	t := Table{Name: name}
	if info == nil || info.Kind != yaml.MappingNode {
		return t, nil
	}
	var err error
	t.Description = strings.TrimSpace(scalar(get(info, "description")))
	t.Columns, err = columns(name, get(info, "columns"))
	t.PrimaryKey = stringList(get(info, "primary_key", "pk"))
	t.ForeignKeys = foreignKeys(get(info, "foreign_keys", "fks"))
	return t, err
}

// flatTable reads the table -> column list / column map shape.
func flatTable(name string, info *yaml.Node) (Table, error) {
	t := Table{Name: name}
	if info == nil {
		return t, nil
	}
	var err error
	switch info.Kind {
	case yaml.SequenceNode:
		t.Columns, err = columns(name, info)
	case yaml.MappingNode:
		if cols := get(info, "columns"); cols != nil {
			t.Columns, err = columns(name, cols)
			return t, err
		}
		allScalar := true
		eachPair(info, func(_ string, v *yaml.Node) {
			if v.Kind != yaml.ScalarNode {
				allScalar = false
			}
		})
		if allScalar {
			t.Columns, err = columns(name, info)
		}
	}
	return t, err
}

// columns accepts a list of names, a list of column mappings, or a name -> type mapping.
func columns(table string, n *yaml.Node) ([]Column, error) {
	if n == nil {
		return nil, nil
	}
	var (
		out  []Column
		errs []error
	)
	switch n.Kind {
	case yaml.SequenceNode:
		for _, c := range n.Content {
			switch c.Kind {
			case yaml.ScalarNode:
				out = append(out, Column{Name: c.Value})
			case yaml.MappingNode:
				col := Column{
					Name: scalar(get(c, "name", "column", "column_name")),
					Type: scalar(get(c, "type", "dtype", "data_type")),
				}
				if pk := get(c, "pk", "primary_key"); pk != nil {
					var b bool
					if err := pk.Decode(&b); err != nil {
						errs = append(errs, fmt.Errorf("table %s column %s (line %d): %w: got %q",
							table, col.Name, pk.Line, ErrInvalidPrimaryKey, pk.Value))
					}
					col.PrimaryKey = b
				}
				if col.Name != "" {
					out = append(out, col)
				}
			}
		}
	case yaml.MappingNode:
		eachPair(n, func(key string, v *yaml.Node) {
			out = append(out, Column{Name: key, Type: scalar(v)})
		})
	}
	return out, errors.Join(errs...)
}

func foreignKeys(n *yaml.Node) []ForeignKey {
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	var out []ForeignKey
	for _, f := range n.Content {
		if f.Kind != yaml.MappingNode {
			continue
		}
		fk := ForeignKey{
			Column:    scalar(get(f, "column", "from")),
			RefTable:  scalar(get(f, "ref_table", "to_table", "table")),
			RefColumn: scalar(get(f, "ref_column", "to_column", "column_ref")),
		}
		if fk.Column != "" && fk.RefTable != "" && fk.RefColumn != "" {
			out = append(out, fk)
		}
	}
	return out
}

// markPrimaryKey reconciles column pk flags with the primary key list.
func (t *Table) markPrimaryKey() {
	if len(t.PrimaryKey) == 0 {
		for _, c := range t.Columns {
			if c.PrimaryKey {
				t.PrimaryKey = append(t.PrimaryKey, c.Name)
			}
		}
		return
	}
	for i := range t.Columns {
		for _, pk := range t.PrimaryKey {
			if t.Columns[i].Name == pk {
				t.Columns[i].PrimaryKey = true
			}
		}
	}
}

// get returns the value of the first key present in mapping n.
func get(n *yaml.Node, keys ...string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for _, key := range keys {
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				v := n.Content[i+1]
				if v.Kind == yaml.ScalarNode && v.Tag == "!!null" {
					continue
				}
				return v
			}
		}
	}
	return nil
}

func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node)) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		fn(n.Content[i].Value, n.Content[i+1])
	}
}

func scalar(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

// stringList accepts a single scalar or a sequence of scalars.
func stringList(n *yaml.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if v := scalar(n); v != "" {
			return []string{v}
		}
	case yaml.SequenceNode:
		var out []string
		for _, c := range n.Content {
			if v := scalar(c); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}
