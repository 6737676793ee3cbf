package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalping/probe-agent/internal/measure"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeGate struct{ ready bool }

func (g fakeGate) IsReady() bool { return g.ready }

type fakeSender struct {
	mu        sync.Mutex
	progress  []map[string]any
	results   []map[string]any
}

func (s *fakeSender) EmitProgress(testID, measurementID string, overwrite bool, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, result)
}

func (s *fakeSender) EmitResult(testID, measurementID string, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *fakeSender) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type blockingExecutor struct {
	kind    measure.Kind
	release chan struct{}
}

func (e *blockingExecutor) Kind() measure.Kind { return e.kind }

func (e *blockingExecutor) Run(ctx context.Context, sink measure.Sink, jobID string, raw json.RawMessage) {
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	sink.Result(map[string]any{"status": measure.StatusFinished})
}

type panicExecutor struct{}

func (panicExecutor) Kind() measure.Kind { return measure.KindPing }

func (panicExecutor) Run(ctx context.Context, sink measure.Sink, jobID string, raw json.RawMessage) {
	panic("boom")
}

func TestDispatchIgnoresRequestWhenNotReady(t *testing.T) {
	sender := &fakeSender{}
	d := New(testLogger(), fakeGate{ready: false}, sender, func(measure.Kind, json.RawMessage) measure.Executor {
		return &blockingExecutor{kind: measure.KindPing}
	})

	acked := false
	d.Dispatch(context.Background(), measure.Request{MeasurementID: "m1", Measurement: json.RawMessage(`{"type":"ping"}`)}, func() { acked = true })

	assert.False(t, acked)
	assert.Equal(t, 0, d.InFlight())
}

func TestDispatchAcksAndTracksThenRemovesOnCompletion(t *testing.T) {
	sender := &fakeSender{}
	release := make(chan struct{})
	d := New(testLogger(), fakeGate{ready: true}, sender, func(measure.Kind, json.RawMessage) measure.Executor {
		return &blockingExecutor{kind: measure.KindPing, release: release}
	})

	acked := false
	d.Dispatch(context.Background(), measure.Request{MeasurementID: "m1", Measurement: json.RawMessage(`{"type":"ping"}`)}, func() { acked = true })

	require.True(t, acked)
	assert.Equal(t, 1, d.InFlight())

	close(release)
	require.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sender.resultCount())
}

func TestDispatchConvertsPanicToFailedResult(t *testing.T) {
	sender := &fakeSender{}
	d := New(testLogger(), fakeGate{ready: true}, sender, func(measure.Kind, json.RawMessage) measure.Executor {
		return panicExecutor{}
	})

	d.Dispatch(context.Background(), measure.Request{MeasurementID: "m1", Measurement: json.RawMessage(`{"type":"ping"}`)}, func() {})

	require.Eventually(t, func() bool { return sender.resultCount() == 1 }, time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, measure.StatusFailed, sender.results[0]["status"])
}

func TestDispatchUnknownKindNoExecutorStillNoPanic(t *testing.T) {
	sender := &fakeSender{}
	d := New(testLogger(), fakeGate{ready: true}, sender, func(measure.Kind, json.RawMessage) measure.Executor {
		return nil
	})

	acked := false
	d.Dispatch(context.Background(), measure.Request{MeasurementID: "m1", Measurement: json.RawMessage(`{"type":"unknown"}`)}, func() { acked = true })

	assert.True(t, acked)
	assert.Equal(t, 0, d.InFlight())
}

func TestJobSinkDropsFramesAfterResult(t *testing.T) {
	sender := &fakeSender{}
	sink := &jobSink{testID: "t1", measurementID: "m1", sender: sender}

	sink.Result(map[string]any{"status": measure.StatusFinished})
	sink.Progress(map[string]any{"rawOutput": "late"}, false)
	sink.Result(map[string]any{"status": measure.StatusFailed})

	assert.Len(t, sender.results, 1)
	assert.Empty(t, sender.progress)
}

func TestSweepRemovesStaleJobs(t *testing.T) {
	sender := &fakeSender{}
	d := New(testLogger(), fakeGate{ready: true}, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobCtx, jobCancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.jobs["stale"] = &job{measurementID: "stale", startedAt: time.Now().Add(-time.Hour), cancel: jobCancel}
	d.mu.Unlock()

	d.sweep()

	assert.Equal(t, 0, d.InFlight())
	select {
	case <-jobCtx.Done():
	default:
		t.Fatal("expected stale job's context to be cancelled")
	}
}

func TestDrainReturnsImmediatelyWhenEmpty(t *testing.T) {
	d := New(testLogger(), fakeGate{ready: true}, &fakeSender{}, nil)
	d.StartSweep(context.Background())

	done := make(chan struct{})
	go func() {
		d.Drain()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return promptly for an empty dispatcher")
	}
}
