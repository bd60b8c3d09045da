package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRecorder(t *testing.T) {
	logger, rec := NewLogRecorder(t)

	logger.With("domain", "shop").Info("connected", "rows", 3)
	logger.Debug("detail")
	logger.WithGroup("g").Warn("slow", "ms", 12)

	entry, ok := rec.Find("connected")
	require.True(t, ok)
	assert.Equal(t, slog.LevelInfo, entry.Level)
	assert.Equal(t, map[string]string{"domain": "shop", "rows": "3"}, entry.Attrs)

	assert.Equal(t, []string{"detail"}, rec.Messages(slog.LevelDebug))
	assert.Equal(t, []string{"slow"}, rec.Messages(slog.LevelWarn))
	assert.Len(t, rec.Entries(), 3)

	_, ok = rec.Find("missing")
	assert.False(t, ok)
}

func TestWithLevel(t *testing.T) {
	logger, rec := NewLogRecorder(t, WithLevel(slog.LevelWarn))

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Error("shown")

	assert.Equal(t, []string{"shown"}, rec.Messages(slog.LevelError))
	assert.Len(t, rec.Entries(), 1)
	assert.False(t, NewTestLogger(t, WithLevel(slog.LevelWarn)).Enabled(t.Context(), slog.LevelInfo))
}

func TestTestWriter_DropsAfterCleanup(t *testing.T) {
	var w *testWriter
	t.Run("inner", func(t *testing.T) {
		w = newTestWriter(t)
		n, err := w.Write([]byte("during\n"))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	})

	// The inner test has finished; writing must not call its t.Log.
	n, err := w.Write([]byte("after\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, w.done)
}
