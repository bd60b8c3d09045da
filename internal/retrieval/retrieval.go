// Package retrieval selects the schema chunks that give a question its context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/state"
)

// DefaultTopK is the number of chunks retrieved when k is not positive.
const DefaultTopK = 12

// Chunk is one retrieved piece of schema context.
type Chunk struct {
	ID    string
	Kind  string
	Text  string
	Score float64
}

// Retriever returns ordered, deduplicated context chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, domain, question string, k int) ([]Chunk, error)
}

// Index is the chunk storage the FTS retriever reads from.
type Index interface {
	SearchChunks(ctx context.Context, domain, match string, limit int) ([]state.ChunkHit, error)
	ListChunks(ctx context.Context, domain string, limit int) ([]schema.Chunk, error)
	GetChunk(ctx context.Context, domain, id string) (schema.Chunk, error)
}

// FTS ranks chunks with the SQLite full-text index.
type FTS struct {
	index  Index
	logger *slog.Logger
}

var _ Retriever = (*FTS)(nil)

// NewFTS creates a full-text retriever over index.
func NewFTS(index Index, logger *slog.Logger) *FTS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FTS{index: index, logger: logger}
}

// Retrieve returns the domain's relationships chunk followed by the best
// matching chunks, at most k in total.
func (r *FTS) Retrieve(ctx context.Context, domain, question string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	c := newCollector(k)
	c.pinRelationships(ctx, r.index, domain)

	match := MatchQuery(question)
	if match == "" {
		all, err := r.index.ListChunks(ctx, domain, k+1)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", domain, err)
		}
		for _, ch := range all {
			c.add(ch, 0)
		}
		return c.out, nil
	}

	hits, err := r.index.SearchChunks(ctx, domain, match, k+1)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", domain, err)
	}
	c.addHits(hits)

	r.logger.Debug("chunks retrieved",
		slog.String("domain", domain),
		slog.String("mode", "fts"),
		slog.Int("hits", len(hits)),
		slog.Int("returned", len(c.out)))
	return c.out, nil
}

// collector keeps the first k distinct chunks in insertion order.
type collector struct {
	k    int
	out  []Chunk
	seen map[string]bool
}

func newCollector(k int) *collector {
	return &collector{k: k, out: make([]Chunk, 0, k), seen: make(map[string]bool, k)}
}

func (c *collector) add(ch schema.Chunk, score float64) {
	if len(c.out) >= c.k || c.seen[ch.ID] {
		return
	}
	c.seen[ch.ID] = true
	c.out = append(c.out, Chunk{ID: ch.ID, Kind: ch.Kind, Text: ch.Text, Score: score})
}

func (c *collector) addHits(hits []state.ChunkHit) {
	for _, h := range hits {
		c.add(h.Chunk, h.Score)
	}
}

type chunkGetter interface {
	GetChunk(ctx context.Context, domain, id string) (schema.Chunk, error)
}

// pinRelationships adds the domain's relationships chunk when it is indexed.
func (c *collector) pinRelationships(ctx context.Context, index chunkGetter, domain string) {
	if rel, err := index.GetChunk(ctx, domain, schema.RelationshipsID(domain)); err == nil {
		c.add(rel, 0)
	}
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "did": true, "do": true, "does": true, "each": true, "for": true, "from": true,
	"give": true, "has": true, "have": true, "how": true, "in": true, "is": true, "it": true,
	"list": true, "many": true, "me": true, "much": true, "of": true, "on": true, "or": true,
	"show": true, "that": true, "the": true, "their": true, "there": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "with": true,
}

// MatchQuery turns a question into an FTS5 MATCH expression: lower-cased
// alphanumeric tokens, stop words and single characters dropped, each token
// quoted and the set OR-joined. Returns "" when nothing is left.
func MatchQuery(question string) string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var terms []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
