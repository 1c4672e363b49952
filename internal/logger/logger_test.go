package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "input=%q", input)
	}
}

func TestHandler_FormatsBracketedLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(&buf, slog.LevelDebug))

	log.Info("push complete", "doc_id", "abc123", "duration_ms", 42)

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "push complete")
	assert.Contains(t, line, "doc_id=abc123")
	assert.Contains(t, line, "duration_ms=42")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestHandler_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(&buf, slog.LevelWarn))

	log.Info("should not appear")
	log.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestHandler_WithAttrsAndWithGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(&buf, slog.LevelInfo)).With("worker_id", "w1").WithGroup("push")

	log.Info("uploaded", "doc_id", "abc123")

	out := buf.String()
	assert.Contains(t, out, "worker_id=w1")
	assert.Contains(t, out, "push.doc_id=abc123")
}

func TestHandler_DefaultsNilLevelToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(&buf, nil))

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestHandler_ConcurrentWritesAreSerialized(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf, slog.LevelInfo)
	log := slog.New(h)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			log.Info("concurrent", "n", n)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 20)
}
