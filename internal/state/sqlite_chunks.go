package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
)

// ChunkHit is a ranked chunk. Score is the bm25 score of a full-text match or
// the cosine distance of a vector match; lower is better in both.
type ChunkHit struct {
	schema.Chunk
	Score float64
}

// ReplaceChunks atomically replaces every chunk of a domain.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, domain string, chunks []schema.Chunk) (err error) {
	if s.db == nil {
		return ErrNotOpened
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schema_chunks WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("failed to clear chunk index: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO schema_chunks (domain, id, kind, table_name, text, indexed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			domain, c.ID, c.Kind, c.Table, c.Text, now); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (domain, id, text) VALUES (?, ?, ?)`,
			domain, c.ID, c.Text); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	s.logger.Debug("chunks replaced", slog.String("domain", domain), slog.Int("count", len(chunks)))
	return nil
}

// SearchChunks runs an FTS5 MATCH query within a domain, best matches first.
func (s *SQLiteStore) SearchChunks(ctx context.Context, domain, match string, limit int) ([]ChunkHit, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.kind, c.table_name, c.text, bm25(chunks_fts) AS score
		 FROM chunks_fts
		 JOIN schema_chunks c ON c.domain = chunks_fts.domain AND c.id = chunks_fts.id
		 WHERE chunks_fts MATCH ? AND chunks_fts.domain = ?
		 ORDER BY score, c.id
		 LIMIT ?`,
		match, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ID, &h.Kind, &h.Table, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ListChunks returns up to limit chunks of a domain in id order.
func (s *SQLiteStore) ListChunks(ctx context.Context, domain string, limit int) ([]schema.Chunk, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, table_name, text FROM schema_chunks WHERE domain = ? ORDER BY id LIMIT ?`,
		domain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []schema.Chunk
	for rows.Next() {
		var c schema.Chunk
		if err := rows.Scan(&c.ID, &c.Kind, &c.Table, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk returns one chunk of a domain.
func (s *SQLiteStore) GetChunk(ctx context.Context, domain, id string) (schema.Chunk, error) {
	if s.db == nil {
		return schema.Chunk{}, ErrNotOpened
	}

	var c schema.Chunk
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, table_name, text FROM schema_chunks WHERE domain = ? AND id = ?`,
		domain, id).Scan(&c.ID, &c.Kind, &c.Table, &c.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Chunk{}, fmt.Errorf("chunk %s/%s: %w", domain, id, ErrNotFound)
	}
	if err != nil {
		return schema.Chunk{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	return c, nil
}

// IndexedDomain summarizes the index of one domain.
type IndexedDomain struct {
	Domain    string
	Chunks    int
	IndexedAt time.Time
}

// ListIndexedDomains returns every domain with indexed chunks.
func (s *SQLiteStore) ListIndexedDomains(ctx context.Context) ([]IndexedDomain, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, COUNT(*), MAX(indexed_at) FROM schema_chunks GROUP BY domain ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IndexedDomain
	for rows.Next() {
		var d IndexedDomain
		var at sql.NullString
		if err := rows.Scan(&d.Domain, &d.Chunks, &at); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		if at.Valid {
			d.IndexedAt = parseTimestamp(at.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// parseTimestamp reads the text form sqlite returns for aggregated timestamps.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
