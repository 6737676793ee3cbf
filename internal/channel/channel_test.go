package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/probeid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestBuildDialURLFlattensIdentityToQueryParams(t *testing.T) {
	id := probeid.Identity{UUID: "abc-123", Version: "1.2.3", TotalMemory: 1024, IsHardware: true}

	got, err := buildDialURL("https://api.example.invalid", id)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "https://api.example.invalid/probes?"))
	assert.Contains(t, got, "uuid=abc-123")
	assert.Contains(t, got, "version=1.2.3")
	assert.Contains(t, got, "totalMemory=1024")
	assert.Contains(t, got, "isHardware=true")
}

func TestClassifyConnectError(t *testing.T) {
	assert.Equal(t, classExit, classifyConnectError(errors.New("Invalid probe version")))
	assert.Equal(t, classProbe, classifyConnectError(errors.New("connect_error: IP limit reached")))
	assert.Equal(t, classProbe, classifyConnectError(errors.New("VPN detected on this address")))
	assert.Equal(t, classAPI, classifyConnectError(errors.New("failed to collect probe metadata")))
	assert.Equal(t, classGeneric, classifyConnectError(errors.New("connection refused")))
}

func TestNextDelayUsesOneShotThenFallsBackToBackoff(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	s.oneShotDelay.Store(int64(7 * time.Minute))
	assert.Equal(t, 7*time.Minute, s.nextDelay())

	got := s.nextDelay()
	assert.Greater(t, got, time.Duration(0))
}

func TestRouteServerDisconnectArmsImmediateReconnect(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	reason, err := json.Marshal("io server disconnect")
	require.NoError(t, err)
	s.route(context.Background(), envelope{Event: "disconnect", Data: reason})

	assert.Equal(t, time.Nanosecond, s.nextDelay())
}

func TestRouteClientDisconnectLeavesBackoffAlone(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	reason, err := json.Marshal("transport close")
	require.NoError(t, err)
	s.route(context.Background(), envelope{Event: "disconnect", Data: reason})

	assert.Equal(t, int64(0), s.oneShotDelay.Load())
}

func TestWriteRawReturnsFalseWhenNotConnected(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })
	assert.False(t, s.writeRaw(envelope{Event: "probe:status:update"}))
}

type fakeDispatcher struct {
	mu    sync.Mutex
	reqs  []measure.Request
	acked bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req measure.Request, ack func()) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	ack()
	f.mu.Lock()
	f.acked = true
	f.mu.Unlock()
}

func TestHandleMeasurementRequestDecodesAndDispatches(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })
	disp := &fakeDispatcher{}
	s.SetDispatcher(disp)

	data, err := json.Marshal(measure.Request{MeasurementID: "m1", TestID: "t1", Measurement: json.RawMessage(`{"type":"ping"}`)})
	require.NoError(t, err)

	s.handleMeasurementRequest(context.Background(), envelope{Event: "probe:measurement:request", Data: data, AckID: 42})

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.Len(t, disp.reqs, 1)
	assert.Equal(t, "m1", disp.reqs[0].MeasurementID)
	assert.True(t, disp.acked)
}

func TestHandleMeasurementRequestNoopWhenDispatcherUnset(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	data, err := json.Marshal(measure.Request{MeasurementID: "m1"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.handleMeasurementRequest(context.Background(), envelope{Event: "probe:measurement:request", Data: data})
	})
}

func TestResolveAckDeliversToPendingChannel(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	ch := make(chan json.RawMessage, 1)
	s.ackMu.Lock()
	s.pending[5] = ch
	s.ackMu.Unlock()

	s.resolveAck(5, json.RawMessage(`"ok"`))

	select {
	case got := <-ch:
		assert.Equal(t, `"ok"`, string(got))
	default:
		t.Fatal("expected ack to be delivered")
	}
}

func TestResolveAckIgnoresUnknownID(t *testing.T) {
	s := New(testLogger(), DefaultConfig("https://api.example.invalid"), func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })
	assert.NotPanics(t, func() {
		s.resolveAck(999, json.RawMessage(`"ok"`))
	})
}

// wsServer upgrades one connection and hands it to handler for the test to
// drive assertions and replies against.
func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnectAndServeAnnouncesStatusThenRoutesSigkill(t *testing.T) {
	received := make(chan envelope, 4)
	exited := make(chan int, 1)

	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
			if env.Event == "probe:status:update" {
				_ = conn.WriteJSON(envelope{Event: "probe:sigkill"})
				return
			}
		}
	})

	cfg := DefaultConfig(wsURL(srv.URL))
	cfg.HandshakeTimeout = 5 * time.Second
	s := New(testLogger(), cfg, func() probeid.Identity { return probeid.Identity{UUID: "abc"} }, func() string { return "ready" })
	s.exit = func(code int) { exited <- code }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.connectAndServe(ctx)
	require.Error(t, err)

	select {
	case env := <-received:
		assert.Equal(t, "probe:status:update", env.Event)
	case <-time.After(time.Second):
		t.Fatal("server never received the post-connect status announcement")
	}

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(time.Second):
		t.Fatal("probe:sigkill did not invoke exit")
	}
}

func TestEmitAltIPsRoundTripsThroughAckEnvelope(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == "probe:alt-ips" {
				ack := map[string]any{
					"addedAltIps":          []string{"10.0.0.5"},
					"rejectedIpsToReasons": map[string]string{},
				}
				data, _ := json.Marshal(ack)
				_ = conn.WriteJSON(envelope{Event: "ack", AckID: env.AckID, Data: data})
				continue
			}
		}
	})

	cfg := DefaultConfig(wsURL(srv.URL))
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.AckTimeout = 2 * time.Second
	s := New(testLogger(), cfg, func() probeid.Identity { return probeid.Identity{} }, func() string { return "ready" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	result, err := s.EmitAltIPs(context.Background(), [][2]string{{"10.0.0.1", "tok"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5"}, result.AddedAltIPs)
}
