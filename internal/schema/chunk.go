package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Chunk kinds.
const (
	KindTable         = "table"
	KindRelationships = "relationships"
)

// Chunk is one retrievable piece of schema text.
type Chunk struct {
	ID    string
	Kind  string
	Table string
	Text  string
}

// RelationshipsID returns the chunk id of a domain's join map.
func RelationshipsID(domain string) string {
	return domain + "::relationships"
}

// Chunks renders one chunk per table followed by the relationships chunk.
func (s *Schema) Chunks() []Chunk {
	chunks := make([]Chunk, 0, len(s.Tables)+1)
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		id := t.Name + "__schema"
		if seen[id] {
			continue
		}
		seen[id] = true
		chunks = append(chunks, Chunk{ID: id, Kind: KindTable, Table: t.Name, Text: t.Chunk()})
	}
	return append(chunks, s.RelationshipsChunk())
}

// Chunk renders the table as retrieval text.
func (t Table) Chunk() string {
	lines := []string{"TABLE: " + t.Name}
	if d := strings.TrimSpace(t.Description); d != "" {
		lines = append(lines, "DESCRIPTION: "+d)
	}

	lines = append(lines, "COLUMNS:")
	if len(t.Columns) == 0 {
		lines = append(lines, "- (none found)")
	}
	for _, c := range t.Columns {
		if c.Type != "" {
			lines = append(lines, fmt.Sprintf("- %s (%s)", c.Name, c.Type))
		} else {
			lines = append(lines, "- "+c.Name)
		}
	}

	if len(t.PrimaryKey) > 0 {
		lines = append(lines, "PRIMARY KEY: "+strings.Join(t.PrimaryKey, ", "))
	}
	if len(t.ForeignKeys) > 0 {
		lines = append(lines, "FOREIGN KEYS:")
		for _, fk := range t.ForeignKeys {
			lines = append(lines, fmt.Sprintf("- %s -> %s.%s", fk.Column, fk.RefTable, fk.RefColumn))
		}
	}
	return strings.Join(lines, "\n")
}

// Edges returns every foreign key as "table.column -> ref_table.ref_column",
// sorted and deduplicated.
func (s *Schema) Edges() []string {
	var edges []string
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			edges = append(edges, fmt.Sprintf("%s.%s -> %s.%s", t.Name, fk.Column, fk.RefTable, fk.RefColumn))
		}
	}
	slices.Sort(edges)
	return slices.Compact(edges)
}

// RelationshipsChunk renders the domain's join map.
func (s *Schema) RelationshipsChunk() Chunk {
	domain := s.Domain
	if domain == "" {
		domain = "unknown"
	}

	var b strings.Builder
	b.WriteString("RELATIONSHIPS (Foreign Keys / Join Map)\n")
	fmt.Fprintf(&b, "Domain: %s\n\n", domain)
	edges := s.Edges()
	if len(edges) == 0 {
		b.WriteString("(no foreign keys found)")
	}
	for i, e := range edges {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + e)
	}

	return Chunk{ID: RelationshipsID(domain), Kind: KindRelationships, Text: b.String()}
}
