package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestCompareVersionsNumericSegments(t *testing.T) {
	assert.Equal(t, 1, compareVersions("1.2.0", "1.1.9"))
	assert.Equal(t, -1, compareVersions("1.1.0", "1.2.0"))
	assert.Equal(t, 0, compareVersions("1.2.3", "1.2.3"))
	assert.Equal(t, 1, compareVersions("1.10.0", "1.9.0"))
}

func TestCompareVersionsDifferentLengths(t *testing.T) {
	assert.Equal(t, 1, compareVersions("1.2.1", "1.2"))
	assert.Equal(t, -1, compareVersions("1.2", "1.2.1"))
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	base := 10 * time.Millisecond
	maxDeviation := 5 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jittered(base, maxDeviation)
		assert.GreaterOrEqual(t, got, base)
		assert.Less(t, got, base+maxDeviation)
	}
}

func TestJitteredWithZeroDeviationReturnsBase(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, jittered(10*time.Millisecond, 0))
}

func TestCheckForUpdateTerminatesOnNewerRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"tag_name": "v9.9.9"})
	}))
	defer srv.Close()

	var terminated atomic.Bool
	r := New(testLogger(), Config{ReleaseURL: srv.URL}, "1.0.0", func() { terminated.Store(true) })

	r.checkForUpdate(context.Background())

	assert.True(t, terminated.Load())
}

func TestCheckForUpdateDoesNotTerminateWhenUpToDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"tag_name": "v1.0.0"})
	}))
	defer srv.Close()

	var terminated atomic.Bool
	r := New(testLogger(), Config{ReleaseURL: srv.URL}, "1.0.0", func() { terminated.Store(true) })

	r.checkForUpdate(context.Background())

	assert.False(t, terminated.Load())
}

func TestCheckForUpdateSurvivesUnreachableHost(t *testing.T) {
	var terminated atomic.Bool
	r := New(testLogger(), Config{ReleaseURL: "http://127.0.0.1:1"}, "1.0.0", func() { terminated.Store(true) })

	r.checkForUpdate(context.Background())

	assert.False(t, terminated.Load())
}

func TestRunIsNoopInDevelopment(t *testing.T) {
	var terminated atomic.Bool
	r := New(testLogger(), Config{Development: true}, "1.0.0", func() { terminated.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, terminated.Load())
}

func TestUptimeLoopTerminatesOnceCapReached(t *testing.T) {
	var terminated atomic.Bool
	r := New(testLogger(), Config{
		UptimeInterval:     5 * time.Millisecond,
		UptimeMaxDeviation: 0,
		UptimeMaxUptime:    1 * time.Millisecond,
	}, "1.0.0", func() { terminated.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.uptimeLoop(ctx)

	require.Eventually(t, func() bool { return terminated.Load() }, time.Second, 5*time.Millisecond)
}
