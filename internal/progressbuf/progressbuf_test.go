package progressbuf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstPushFlushesImmediately(t *testing.T) {
	var frames []Frame
	var mu sync.Mutex
	b := New(ModeAppend, 50*time.Millisecond, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})

	b.PushProgress(map[string]string{"rawOutput": "first"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 1)
	assert.Equal(t, "first", frames[0].Fields["rawOutput"])
}

func TestAppendModeConcatenatesWithoutLoss(t *testing.T) {
	var frames []Frame
	var mu sync.Mutex
	b := New(ModeAppend, 30*time.Millisecond, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})

	pieces := []string{"a", "b", "c", "d"}
	for _, p := range pieces {
		b.PushProgress(map[string]string{"rawOutput": p})
		time.Sleep(40 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var got string
	for _, f := range frames {
		got += f.Fields["rawOutput"]
	}
	assert.Equal(t, "abcd", got)
}

func TestDiffModeEmitsOnlySuffix(t *testing.T) {
	var frames []Frame
	var mu sync.Mutex
	b := New(ModeDiff, 30*time.Millisecond, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})

	b.PushProgress(map[string]string{"rawOutput": "hello"})
	time.Sleep(50 * time.Millisecond)
	b.PushProgress(map[string]string{"rawOutput": "hello world"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.Equal(t, "hello", frames[0].Fields["rawOutput"])
	assert.Equal(t, " world", frames[1].Fields["rawOutput"])

	var full string
	for _, f := range frames {
		full += f.Fields["rawOutput"]
	}
	assert.Equal(t, "hello world", full)
}

func TestOverwriteModeMarksFrames(t *testing.T) {
	var frames []Frame
	b := New(ModeOverwrite, 10*time.Millisecond, func(f Frame) {
		frames = append(frames, f)
	})

	b.PushProgress(map[string]string{"table": "hop1"})
	assert.True(t, frames[0].Overwrite)
}

func TestEmptyAccumulatorNeverEmits(t *testing.T) {
	var frames []Frame
	b := New(ModeOverwrite, 10*time.Millisecond, func(f Frame) {
		frames = append(frames, f)
	})

	b.PushProgress(map[string]string{"table": ""})
	assert.Empty(t, frames)
}

func TestResultCancelsPendingProgressAndIsFinal(t *testing.T) {
	var frames []Frame
	var mu sync.Mutex
	b := New(ModeAppend, 200*time.Millisecond, func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})

	b.PushProgress(map[string]string{"rawOutput": "first"}) // flushes immediately
	b.PushProgress(map[string]string{"rawOutput": "buffered, about to be dropped"})
	b.PushResult(map[string]string{"rawOutput": "final"})

	time.Sleep(300 * time.Millisecond) // long enough for the stale timer to have fired, if it wasn't cancelled

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.True(t, frames[1].Result)
	assert.Equal(t, "final", frames[1].Fields["rawOutput"])

	// pushes after the result must be no-ops
	b.PushProgress(map[string]string{"rawOutput": "ignored"})
	assert.Len(t, frames, 2)
}
