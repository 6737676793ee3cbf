// Package dispatch implements the job dispatcher (spec.md §4.J, part):
// per-job concurrent execution with a bounded in-flight map, the
// ack-then-run protocol, a stale-job sweep, and graceful-shutdown
// draining. Grounded on internal/worker/assignment_executor.go's
// `active map[string]*runningAssignment` bookkeeping (teacher),
// simplified to one map since measurement jobs aren't grouped by run.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/telemetry"
)

// SweepInterval and StaleAfter implement the §4.J "Sweep" stale watchdog.
const (
	SweepInterval = 10 * time.Second
	StaleAfter    = 30 * time.Second
)

// DrainPollInterval and DrainCutoff implement the §4.J graceful-shutdown
// drain.
const (
	DrainPollInterval = 100 * time.Millisecond
	DrainCutoff       = 60 * time.Second
)

// StatusGate reports whether the dispatcher should currently accept new
// measurement requests (spec.md §4.F "Gating effect on dispatcher").
type StatusGate interface {
	IsReady() bool
}

// Sender delivers frames to the control-plane channel. Dispatch supplies
// the concrete implementation (internal/channel); executors never see it
// directly, only the measure.Sink wrapper built per job.
type Sender interface {
	EmitProgress(testID, measurementID string, overwrite bool, result map[string]any)
	EmitResult(testID, measurementID string, result map[string]any)
}

// job is the in-memory bookkeeping entry (spec.md §3 "Measurement Job").
type job struct {
	measurementID string
	startedAt     time.Time
	cancel        context.CancelFunc
}

// Dispatcher owns the in-flight job map and routes accepted requests to
// the right measure.Executor. Not a global singleton: constructed once in
// cmd/probe and passed to whatever needs it.
type Dispatcher struct {
	log     *slog.Logger
	status  StatusGate
	sender  Sender
	resolve func(kind measure.Kind, raw json.RawMessage) measure.Executor

	mu   sync.Mutex
	jobs map[string]*job

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New constructs a Dispatcher. resolve picks the concrete executor for a
// decoded measurement kind, given the raw options payload (needed to
// route ping protocol:"tcp" requests to the tcp-ping synthesiser instead
// of the ping(8) executor, per spec.md §4.D).
func New(log *slog.Logger, status StatusGate, sender Sender, resolve func(measure.Kind, json.RawMessage) measure.Executor) *Dispatcher {
	return &Dispatcher{
		log:     log,
		status:  status,
		sender:  sender,
		resolve: resolve,
		jobs:    make(map[string]*job),
	}
}

// StartSweep launches the 10s stale-watchdog ticker (spec.md §4.J
// "Sweep"). Call once per Dispatcher lifetime.
func (d *Dispatcher) StartSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	d.sweepCancel = cancel
	d.sweepDone = make(chan struct{})

	go func() {
		defer close(d.sweepDone)
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				d.sweep()
			}
		}
	}()
}

func (d *Dispatcher) sweep() {
	cutoff := time.Now().Add(-StaleAfter)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, j := range d.jobs {
		if j.startedAt.Before(cutoff) {
			d.log.Warn("sweeping stale job", "measurement_id", id)
			j.cancel()
			delete(d.jobs, id)
		}
	}
}

// InFlight reports the current number of tracked jobs.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Dispatch handles one probe:measurement:request per spec.md §4.J: gates
// on status readiness, acks exactly when the request is accepted,
// resolves an executor, registers the job, and runs it concurrently.
// ack is called synchronously the instant the request is accepted, never
// before validation of readiness and never if the probe isn't ready -
// matching "the request becomes accepted exactly when the ack callback is
// taken".
func (d *Dispatcher) Dispatch(ctx context.Context, req measure.Request, ack func()) {
	if !d.status.IsReady() {
		d.log.Warn("measurement request ignored: probe not ready", "measurement_id", req.MeasurementID)
		return
	}

	kind, err := measure.DecodeKind(req.Measurement)
	if err != nil {
		d.log.Warn("measurement request malformed", "measurement_id", req.MeasurementID, "error", err)
		return
	}
	req.Kind = kind

	ack()
	telemetry.Global().RecordJobDispatched(ctx, string(kind))

	executor := d.resolve(kind, req.Measurement)
	if executor == nil {
		d.log.Warn("no executor for measurement kind", "kind", string(kind), "measurement_id", req.MeasurementID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.jobs[req.MeasurementID] = &job{
		measurementID: req.MeasurementID,
		startedAt:     time.Now(),
		cancel:        cancel,
	}
	d.mu.Unlock()

	sink := &jobSink{testID: req.TestID, measurementID: req.MeasurementID, sender: d.sender}

	go d.run(jobCtx, cancel, executor, sink, req)
}

func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc, executor measure.Executor, sink *jobSink, req measure.Request) {
	defer cancel()
	defer d.remove(req.MeasurementID)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("measurement executor panicked", "measurement_id", req.MeasurementID, "panic", r)
			sink.Result(map[string]any{
				"status":    measure.StatusFailed,
				"rawOutput": measure.GenericFailureMessage,
			})
		}
	}()

	executor.Run(ctx, sink, req.MeasurementID, req.Measurement)
}

func (d *Dispatcher) remove(measurementID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, measurementID)
}

// Drain implements the §4.J graceful-shutdown wait: poll every 100ms
// until the in-flight map is empty, or return anyway after DrainCutoff.
// Callers stop the status manager (emitting the terminal sigterm status)
// before calling Drain.
func (d *Dispatcher) Drain() {
	if d.sweepCancel != nil {
		d.sweepCancel()
		<-d.sweepDone
	}

	deadline := time.Now().Add(DrainCutoff)
	ticker := time.NewTicker(DrainPollInterval)
	defer ticker.Stop()

	for {
		if d.InFlight() == 0 {
			return
		}
		if time.Now().After(deadline) {
			d.log.Warn("drain cutoff reached with jobs still in flight", "count", d.InFlight())
			return
		}
		<-ticker.C
	}
}

// jobSink adapts a Dispatcher's Sender to the measure.Sink contract for
// one job, enforcing "no frame after the result frame" (spec.md §3
// invariants) with a one-shot guard.
type jobSink struct {
	testID        string
	measurementID string
	sender        Sender

	mu         sync.Mutex
	resultSent bool
}

func (s *jobSink) Progress(result map[string]any, overwrite bool) {
	s.mu.Lock()
	sent := s.resultSent
	s.mu.Unlock()
	if sent {
		return
	}
	s.sender.EmitProgress(s.testID, s.measurementID, overwrite, result)
}

func (s *jobSink) Result(result map[string]any) {
	s.mu.Lock()
	if s.resultSent {
		s.mu.Unlock()
		return
	}
	s.resultSent = true
	s.mu.Unlock()
	if result["status"] == measure.StatusFailed && result["rawOutput"] == measure.PrivateIPMessage {
		telemetry.Global().RecordPrivateIPBlocked(context.Background())
	}
	s.sender.EmitResult(s.testID, s.measurementID, result)
}
