// Package probelog provides the probe's structured logger: a JSON
// log/slog.Logger carrying the probe's UUID and component name on every
// record, mirroring the teacher's EventLogger
// (internal/events/logger.go's `With("run_id", ...)` base-attribute
// pattern, generalized from run_id/worker_id to probe_uuid/component).
package probelog

import (
	"context"
	"io"
	"log/slog"
)

// New returns the probe's base logger: JSON output to w (os.Stdout in
// production), with probe_uuid attached to every record.
func New(w io.Writer, probeUUID string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("probe_uuid", probeUUID)
}

// NewWithSink is New, additionally fanning every record out to sink (the
// API-logs ring buffer, internal/logsink.Transport) so every log site
// feeds both the local JSON stream and the control-plane shipping
// buffer without callers needing two loggers.
func NewWithSink(w io.Writer, probeUUID string, sink slog.Handler) *slog.Logger {
	stdout := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(multiHandler{stdout, sink}).With("probe_uuid", probeUUID)
}

// multiHandler fans out every record to each of its handlers, discarding
// individual handler errors (the JSON stream and the ring buffer must
// not block on each other).
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(multiHandler, len(m))
	for i, h := range m {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	next := make(multiHandler, len(m))
	for i, h := range m {
		next[i] = h.WithGroup(name)
	}
	return next
}

// Component returns a child logger tagged with the given component name,
// matching the teacher's per-subsystem `With(...)` sub-loggers.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}

// Noop returns a logger that discards everything, for tests.
func Noop() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
