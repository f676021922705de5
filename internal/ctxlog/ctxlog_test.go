package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New("debug", "text", &buf)
	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Debug("hello", "refn", "x")
	assert.Contains(t, buf.String(), "refn=x")

	// No logger attached: nothing panics and nothing is written.
	FromContext(context.Background()).Error("dropped")
}

func TestNew(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New("warn", "json", &buf).Info("quiet")
	assert.Empty(t, buf.String())

	New("warn", "json", &buf).Warn("loud")
	assert.Contains(t, buf.String(), `"msg":"loud"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
