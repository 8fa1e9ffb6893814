package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textHandler(buf *bytes.Buffer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}

			return a
		},
	})
}

// Expectation: Records should reach every handler enabled for their level.
func TestSlogManager_FanOut(t *testing.T) {
	t.Parallel()

	var debug, info bytes.Buffer

	m := NewSlogManager()
	m.AddHandler("debug", textHandler(&debug, slog.LevelDebug))
	m.AddHandler("info", textHandler(&info, slog.LevelInfo))

	logger := slog.New(m)
	logger.Debug("quiet")
	logger.Info("loud", "job", "j1")

	assert.Contains(t, debug.String(), "msg=quiet")
	assert.Contains(t, debug.String(), "msg=loud job=j1")
	assert.NotContains(t, info.String(), "quiet")
	assert.Contains(t, info.String(), "msg=loud job=j1")

	assert.True(t, m.Enabled(context.Background(), slog.LevelDebug))
	m.RemoveHandler("debug")
	assert.False(t, m.Enabled(context.Background(), slog.LevelDebug))

	_, ok := m.GetHandler("debug")
	require.False(t, ok)
}

// Expectation: Attributes and groups should also apply to handlers added
// afterwards.
func TestSlogManager_WithAttrs(t *testing.T) {
	t.Parallel()

	var before, after bytes.Buffer

	m := NewSlogManager()
	m.AddHandler("before", textHandler(&before, slog.LevelInfo))

	derived, ok := m.WithAttrs([]slog.Attr{slog.String("scheme", "file")}).(*SlogManager)
	require.True(t, ok)
	derived.AddHandler("after", textHandler(&after, slog.LevelInfo))

	slog.New(derived).Info("hello")

	assert.Contains(t, before.String(), "msg=hello scheme=file")
	assert.Contains(t, after.String(), "msg=hello scheme=file")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}
