package metricsreport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	reports []Report
}

func (f *fakeSender) EmitStats(report Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeSender) last() Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[len(f.reports)-1]
}

type fakeCounter struct{ n int }

func (f fakeCounter) InFlight() int { return f.n }

func TestSampleIncludesInFlightJobCount(t *testing.T) {
	sender := &fakeSender{}
	r := New(time.Second, sender, fakeCounter{n: 3})

	r.sample()

	require.Equal(t, 1, sender.count())
	assert.Equal(t, 3, sender.last().Jobs.Count)
}

func TestRunSamplesOnEveryTick(t *testing.T) {
	sender := &fakeSender{}
	r := New(5*time.Millisecond, sender, fakeCounter{n: 0})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	require.Eventually(t, func() bool { return sender.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sender := &fakeSender{}
	r := New(5*time.Millisecond, sender, fakeCounter{n: 0})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	require.Eventually(t, func() bool { return sender.count() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(20 * time.Millisecond)
	n := sender.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sender.count())
}
