// Package progressbuf implements the per-job throttled progress emitter
// described in spec.md §4.C: bursts of small field updates are coalesced
// into at most one frame per PROGRESS_INTERVAL, with the first frame
// flushed immediately, and the final result frame cancelling any pending
// buffered progress without flushing it.
//
// The three modes (append/diff/overwrite) share the accumulate/flush
// skeleton and differ only in three branch points - store, flush-filter,
// frame-shape - per spec.md §9's design note, grounded on the bounded,
// timer-driven drain loop in internal/telemetry/queue.go and
// internal/worker/telemetry_shipper.go from the teacher.
package progressbuf

import (
	"sync"
	"time"
)

// Mode selects how pushed fields accumulate and how frames are shaped.
type Mode int

const (
	// ModeAppend concatenates each pushed field onto the accumulated value;
	// each emission carries what accumulated since the previous one.
	ModeAppend Mode = iota
	// ModeDiff replaces the accumulated value and emits only the suffix
	// beyond what was previously emitted for that field.
	ModeDiff
	// ModeOverwrite replaces the accumulated value and marks every
	// emission with Overwrite=true so downstream discards prior frames.
	ModeOverwrite
)

// DefaultInterval is PROGRESS_INTERVAL from spec.md §4.C.
const DefaultInterval = 500 * time.Millisecond

// Frame is a single emission: either a progress frame (Overwrite may be
// set) or the final result frame (Result is the terminal payload and
// Overwrite is always false).
type Frame struct {
	Fields    map[string]string
	Overwrite bool
	Result    bool
}

// Emitter is called synchronously whenever the Buffer has a frame ready.
type Emitter func(Frame)

// Buffer is a single job's progress coalescer. Not safe to share across
// jobs; one Buffer per in-flight measurement.
type Buffer struct {
	mu       sync.Mutex
	mode     Mode
	interval time.Duration
	emit     Emitter

	accum        map[string]string
	emittedUpTo  map[string]int // ModeDiff: byte offset already emitted per field
	firstEmitted bool
	pending      bool
	timer        *time.Timer
	resultSent   bool
}

// New creates a Buffer in the given mode with the given emitter. interval
// <= 0 uses DefaultInterval.
func New(mode Mode, interval time.Duration, emit Emitter) *Buffer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Buffer{
		mode:        mode,
		interval:    interval,
		emit:        emit,
		accum:       make(map[string]string),
		emittedUpTo: make(map[string]int),
	}
}

// PushProgress stores the given field deltas into the accumulator per the
// buffer's mode, then either emits immediately (no frame emitted yet for
// this job) or schedules an emission at now + interval if one isn't
// already pending. Calls after PushResult are ignored.
func (b *Buffer) PushProgress(fields map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultSent {
		return
	}

	for k, v := range fields {
		switch b.mode {
		case ModeAppend:
			b.accum[k] += v
		case ModeDiff, ModeOverwrite:
			b.accum[k] = v
		}
	}

	if !b.firstEmitted {
		b.firstEmitted = true
		b.flushLocked(false)
		return
	}

	if b.pending {
		return
	}
	b.pending = true
	b.timer = time.AfterFunc(b.interval, b.fireTimer)
}

func (b *Buffer) fireTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resultSent {
		return
	}
	b.pending = false
	b.flushLocked(false)
}

// PushResult cancels any pending progress timer without flushing it, then
// emits the final result frame. No frame may leave the buffer afterward.
func (b *Buffer) PushResult(fields map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultSent {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.pending = false
	b.resultSent = true

	b.emit(Frame{Fields: fields, Result: true})
}

// Abort cancels any pending progress timer and marks the buffer finished,
// without emitting a frame. Used by executors whose final result carries
// richer structure (nested stats, hop lists) than the string-only
// accumulator models - the caller emits that result directly through the
// Sink afterward. A no-op once a result has already been sent.
func (b *Buffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultSent {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.pending = false
	b.resultSent = true
}

// flushLocked builds and emits a frame from the current accumulator state
// per the buffer's mode. Must be called with mu held. A frame is only
// emitted when the accumulator (after mode-specific filtering) is
// non-empty - an empty accumulator never produces a frame, preserving the
// observable behaviour spec.md §9 calls out for MTR's overwrite mode.
func (b *Buffer) flushLocked(force bool) {
	switch b.mode {
	case ModeAppend, ModeOverwrite:
		out := make(map[string]string, len(b.accum))
		empty := true
		for k, v := range b.accum {
			if v != "" {
				empty = false
			}
			out[k] = v
		}
		if empty && !force {
			return
		}
		b.emit(Frame{Fields: out, Overwrite: b.mode == ModeOverwrite})
		if b.mode == ModeAppend {
			b.accum = make(map[string]string)
		}

	case ModeDiff:
		out := make(map[string]string)
		empty := true
		for k, v := range b.accum {
			from := b.emittedUpTo[k]
			if from > len(v) {
				from = len(v)
			}
			delta := v[from:]
			if delta != "" {
				empty = false
			}
			out[k] = delta
			b.emittedUpTo[k] = len(v)
		}
		if empty && !force {
			return
		}
		b.emit(Frame{Fields: out})
	}
}
