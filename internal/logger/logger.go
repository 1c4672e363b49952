// Package logger provides a slog.Handler that renders records the way the
// original package-level logger did: bracketed timestamp and level followed
// by the message and any attributes, one line per record.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// slog.Level, defaulting to slog.LevelInfo for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler is a slog.Handler that writes one bracketed, timestamped line per
// record: "[2006-01-02 15:04:05] [INFO] message key=val key2=val2".
type Handler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// New builds a Handler writing to out, filtering records below minLevel.
func New(out io.Writer, minLevel slog.Leveler) *Handler {
	if minLevel == nil {
		minLevel = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, out: out, level: minLevel}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	timestamp := rec.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp.Format("2006-01-02 15:04:05"), rec.Level.String(), rec.Message)

	writeAttr := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		name := a.Key
		if len(h.groups) > 0 {
			name = strings.Join(h.groups, ".") + "." + name
		}
		fmt.Fprintf(&b, " %s=%v", name, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}
