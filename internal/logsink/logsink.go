// Package logsink implements the API-Logs Transport (spec.md §4.H): an
// in-memory ring buffer of structured log records shipped to the control
// plane on an ack-driven flush cycle with redrive on failure. Grounded on
// internal/telemetry/queue.go's BoundedQueue (tier-shedding logic
// simplified to a single FIFO ring, since spec.md has one tier of log
// record) and internal/worker/telemetry_shipper.go's run()/shipBatch()
// ack-then-splice loop.
package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBufferSize and DefaultSendInterval are spec.md §4.H's
// defaults.
const (
	DefaultMaxBufferSize = 100
	DefaultSendInterval  = 10 * time.Second
	MaxMessageLen        = 1000
)

// Record is one structured log line (spec.md §4.H / §6 probe:logs).
type Record struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Scope     string    `json:"scope"`
}

// Sender ships a snapshot of buffered logs and awaits the server's ack.
type Sender interface {
	// SendLogs returns true if the server acked "success".
	SendLogs(ctx context.Context, logs []Record, skipped int) (ok bool, err error)
}

// Transport is the ring buffer + flush-cycle. It implements slog.Handler
// so it can be attached directly to the probe's logger
// (internal/probelog), shipping every record the probe logs in addition
// to whatever other handler writes to stdout.
type Transport struct {
	log    *slog.Logger
	sender Sender
	// Connected reports whether the channel is currently up; the flush
	// cycle only ships when true (spec.md §4.H "while isActive and the
	// channel is connected").
	Connected func() bool

	mu            sync.Mutex
	buf           []Record
	maxBufferSize int
	droppedLogs   int
	isActive      bool
	sendInterval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Transport with the spec.md §4.H defaults. isActive
// starts true.
func New(log *slog.Logger, sender Sender) *Transport {
	return &Transport{
		log:           log,
		sender:        sender,
		Connected:     func() bool { return true },
		maxBufferSize: DefaultMaxBufferSize,
		sendInterval:  DefaultSendInterval,
		isActive:      true,
	}
}

// Settings is the partial-update payload for UpdateSettings (spec.md
// §4.H "Dynamic reconfiguration").
type Settings struct {
	IsActive      *bool
	SendInterval  *time.Duration
	MaxBufferSize *int
}

// UpdateSettings applies a partial update. The running flush loop reads
// the interval before each wait, so a new SendInterval takes effect once
// the wait already in progress has elapsed; that wait is not cut short.
func (t *Transport) UpdateSettings(s Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.IsActive != nil {
		t.isActive = *s.IsActive
	}
	if s.SendInterval != nil {
		t.sendInterval = *s.SendInterval
	}
	if s.MaxBufferSize != nil {
		t.maxBufferSize = *s.MaxBufferSize
		for len(t.buf) > t.maxBufferSize {
			t.buf = t.buf[1:]
			t.droppedLogs++
		}
	}
}

// Enabled implements slog.Handler.
func (t *Transport) Enabled(context.Context, slog.Level) bool { return true }

// WithAttrs implements slog.Handler by returning the Transport unchanged:
// attrs bound through WithAttrs are discarded. Only a record's own attrs
// are folded into the message text, by Handle.
func (t *Transport) WithAttrs(attrs []slog.Attr) slog.Handler { return t }

// WithGroup implements slog.Handler.
func (t *Transport) WithGroup(string) slog.Handler { return t }

// Handle implements slog.Handler: pushes the record into the ring buffer.
func (t *Transport) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	t.push(truncate(b.String()), r.Time, r.Level.String(), "probe")
	return nil
}

// push appends a record, dropping the oldest on overflow.
func (t *Transport) push(message string, ts time.Time, level, scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) >= t.maxBufferSize {
		t.buf = t.buf[1:]
		t.droppedLogs++
	}
	t.buf = append(t.buf, Record{Message: message, Timestamp: ts, Level: level, Scope: scope})
}

// truncate caps message at MaxMessageLen with a trailing "..." (spec.md
// §4.H "Message length cap").
func truncate(message string) string {
	if len(message) <= MaxMessageLen {
		return message
	}
	return message[:MaxMessageLen] + "..."
}

// Start launches the flush-cycle loop until ctx is cancelled or Stop is
// called.
func (t *Transport) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		for {
			t.mu.Lock()
			interval := t.sendInterval
			t.mu.Unlock()

			select {
			case <-runCtx.Done():
				return
			case <-time.After(interval):
				t.flush(runCtx)
			}
		}
	}()
}

// Stop halts the flush loop.
func (t *Transport) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// flush implements one cycle (spec.md §4.H "Flush cycle"): snapshot,
// send, and on ack success splice off exactly the still-present snapshot
// entries while accounting for drops that happened while the send was in
// flight.
func (t *Transport) flush(ctx context.Context) {
	t.mu.Lock()
	if !t.isActive || !t.Connected() || len(t.buf) == 0 {
		t.mu.Unlock()
		return
	}
	snapshot := make([]Record, len(t.buf))
	copy(snapshot, t.buf)
	droppedAtSend := t.droppedLogs
	t.mu.Unlock()

	ok, err := t.sender.SendLogs(ctx, snapshot, droppedAtSend)
	if err != nil || !ok {
		// Keep the buffer; next interval retries (spec.md: "On ack
		// failure / emit error: keep the buffer").
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	droppedWhileAwaiting := t.droppedLogs - droppedAtSend
	if droppedWhileAwaiting < 0 {
		droppedWhileAwaiting = 0
	}
	removable := len(snapshot) - droppedWhileAwaiting
	if removable < 0 {
		removable = 0
	}
	if removable > len(t.buf) {
		removable = len(t.buf)
	}
	t.buf = t.buf[removable:]
	t.droppedLogs = droppedWhileAwaiting
}
