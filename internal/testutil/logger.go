// Package testutil provides logging helpers for package tests.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type loggerConfig struct {
	level slog.Leveler
}

// LoggerOption configures NewTestLogger and NewLogRecorder.
type LoggerOption func(*loggerConfig)

// WithLevel sets the minimum level written. The default is debug.
func WithLevel(level slog.Leveler) LoggerOption {
	return func(c *loggerConfig) { c.level = level }
}

func newConfig(opts []LoggerOption) loggerConfig {
	cfg := loggerConfig{level: slog.LevelDebug}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v. Lines logged by
// goroutines that outlive the test are dropped.
func NewTestLogger(t testing.TB, opts ...LoggerOption) *slog.Logger {
	t.Helper()
	cfg := newConfig(opts)
	return slog.New(slog.NewTextHandler(newTestWriter(t), &slog.HandlerOptions{Level: cfg.level}))
}

// testWriter forwards handler output to t.Log until the test is cleaned up.
type testWriter struct {
	t    testing.TB
	mu   sync.Mutex
	done bool
}

func newTestWriter(t testing.TB) *testWriter {
	w := &testWriter{t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	})
	return w
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Helper()
		w.t.Log(strings.TrimSuffix(string(p), "\n"))
	}
	return len(p), nil
}

// Entry is one captured log record.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogRecorder keeps every record logged through its logger.
type LogRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLogRecorder returns a logger that writes to t.Log() like NewTestLogger and
// also records each entry for assertions.
func NewLogRecorder(t testing.TB, opts ...LoggerOption) (*slog.Logger, *LogRecorder) {
	t.Helper()
	cfg := newConfig(opts)
	rec := &LogRecorder{}
	inner := slog.NewTextHandler(newTestWriter(t), &slog.HandlerOptions{Level: cfg.level})
	return slog.New(&recordingHandler{inner: inner, rec: rec}), rec
}

// Entries returns a copy of the recorded entries.
func (r *LogRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns the messages recorded at level.
func (r *LogRecorder) Messages(level slog.Level) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Find returns the first entry with message msg.
func (r *LogRecorder) Find(msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Message == msg {
			return e, true
		}
	}
	return Entry{}, false
}

type recordingHandler struct {
	inner slog.Handler
	rec   *LogRecorder
	attrs []slog.Attr
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{Level: r.Level, Message: r.Message, Attrs: make(map[string]string)}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.String()
		return true
	})

	h.rec.mu.Lock()
	h.rec.entries = append(h.rec.entries, e)
	h.rec.mu.Unlock()
	return h.inner.Handle(ctx, r)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		inner: h.inner.WithAttrs(attrs),
		rec:   h.rec,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup keeps recorded attribute keys flat.
func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{inner: h.inner.WithGroup(name), rec: h.rec, attrs: h.attrs}
}
