package state

import (
	"context"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	sqlite "modernc.org/sqlite"
)

// ErrDimensionMismatch is returned when vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

func init() {
	// Deterministic: equal blobs give equal distances, so sqlite may cache results.
	if err := sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vectorDistanceCos); err != nil {
		panic(fmt.Sprintf("state: register vector_distance_cos: %v", err))
	}
}

// ChunkVector is the embedding of one stored chunk.
type ChunkVector struct {
	ChunkID string
	Vector  []float32
}

// ReplaceEmbeddings atomically replaces the embeddings of a domain. Every
// vector must belong to a chunk already stored by ReplaceChunks and have the
// same length. Replacing the chunks of a domain drops its embeddings.
func (s *SQLiteStore) ReplaceEmbeddings(ctx context.Context, domain, model string, vectors []ChunkVector) (err error) {
	if s.db == nil {
		return ErrNotOpened
	}

	dims := 0
	for _, v := range vectors {
		if len(v.Vector) == 0 {
			return fmt.Errorf("chunk %s: empty embedding", v.ChunkID)
		}
		if dims == 0 {
			dims = len(v.Vector)
		}
		if len(v.Vector) != dims {
			return fmt.Errorf("chunk %s: %w: %d vs %d", v.ChunkID, ErrDimensionMismatch, len(v.Vector), dims)
		}
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM schema_embeddings WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	for _, v := range vectors {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO schema_embeddings (domain, chunk_id, model, dims, embedding) VALUES (?, ?, ?, ?, ?)`,
			domain, v.ChunkID, model, dims, EncodeVector(v.Vector)); err != nil {
			return fmt.Errorf("failed to store embedding of chunk %s: %w", v.ChunkID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}

	s.logger.Debug("embeddings replaced",
		slog.String("domain", domain),
		slog.String("model", model),
		slog.Int("count", len(vectors)),
		slog.Int("dims", dims))
	return nil
}

// SearchEmbeddings returns the chunks of a domain nearest to query among the
// vectors embedded with model. Score is the cosine distance (lower is better).
func (s *SQLiteStore) SearchEmbeddings(ctx context.Context, domain, model string, query []float32, limit int) ([]ChunkHit, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.kind, c.table_name, c.text, vector_distance_cos(e.embedding, ?) AS score
		 FROM schema_embeddings e
		 JOIN schema_chunks c ON c.domain = e.domain AND c.id = e.chunk_id
		 WHERE e.domain = ? AND e.model = ? AND e.dims = ?
		 ORDER BY score, c.id
		 LIMIT ?`,
		EncodeVector(query), domain, model, len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
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

// CountEmbeddings returns how many chunks of a domain are embedded with model.
func (s *SQLiteStore) CountEmbeddings(ctx context.Context, domain, model string) (int, error) {
	if s.db == nil {
		return 0, ErrNotOpened
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_embeddings WHERE domain = ? AND model = ?`,
		domain, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

// EncodeVector packs v as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// CosineDistance returns 1 - cosine similarity of a and b. A zero vector is at
// distance 1 from everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

func vectorDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, errors.New("vector_distance_cos expects 2 arguments")
	}
	var vecs [2][]float32
	for i, arg := range args {
		if arg == nil {
			return float64(1), nil
		}
		b, ok := arg.([]byte)
		if !ok {
			return nil, fmt.Errorf("vector_distance_cos: argument %d is %T, want blob", i+1, arg)
		}
		v, err := DecodeVector(b)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return CosineDistance(vecs[0], vecs[1])
}
