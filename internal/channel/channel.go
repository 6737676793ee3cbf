// Package channel implements the connection supervisor (spec.md §4.J):
// a persistent bidirectional session to the control plane, reconnection
// with error-class-specific backoff, the fixed server-event handler
// table, and the outbound event envelope that internal/dispatch,
// internal/altip and internal/logsink send frames through. Grounded on
// the teacher's entire absence of a websocket layer (cmd/worker/main.go
// instead runs a heartbeatLoop + pollAssignments pair over plain HTTP);
// this package generalizes that same liveness-loop-plus-work-intake-loop
// shape into one gorilla/websocket read loop with typed envelope
// dispatch, and grounds its ack/ID correlation scheme on
// bassosimone-nop/spanid.go's NewSpanID pattern (a per-attempt
// correlation ID rather than a socket.io ack callback).
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/globalping/probe-agent/internal/altip"
	"github.com/globalping/probe-agent/internal/logsink"
	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/metricsreport"
	"github.com/globalping/probe-agent/internal/probeid"
	"github.com/globalping/probe-agent/internal/telemetry"
)

// Config holds the handshake and reconnection tunables (spec.md §4.J).
type Config struct {
	URL                  string
	HandshakeTimeout     time.Duration
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	RandomizationFactor  float64
	ProbeClassDelay      time.Duration
	APIClassDelay        time.Duration
	AckTimeout           time.Duration
}

// DefaultConfig returns spec.md §4.J's literal handshake parameters.
func DefaultConfig(apiHost string) Config {
	return Config{
		URL:                  apiHost,
		HandshakeTimeout:     45 * time.Second,
		ReconnectionDelay:    2 * time.Second,
		ReconnectionDelayMax: 8 * time.Second,
		RandomizationFactor:  0.75,
		ProbeClassDelay:      1 * time.Hour,
		APIClassDelay:        1 * time.Minute,
		AckTimeout:           15 * time.Second,
	}
}

// Dispatcher is the subset of *internal/dispatch.Dispatcher the channel
// drives on an incoming measurement request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req measure.Request, ack func())
}

// envelope is the wire frame for every event in both directions. AckID
// correlates an outbound frame expecting a reply with the inbound
// "ack" envelope carrying the same ID - our Go-idiomatic stand-in for a
// socket.io per-emit callback.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID uint64          `json:"ackId,omitempty"`
}

// Session owns one logical connection to the control plane, including
// every reconnect attempt. Not a global singleton: constructed once in
// cmd/probe.
type Session struct {
	log    *slog.Logger
	cfg    Config
	dial   func(ctx context.Context, url string, timeout time.Duration) (*websocket.Conn, error)
	exit   func(code int)

	identity      func() probeid.Identity
	currentStatus func() string
	dispatcher    Dispatcher
	onAltIPsToken func(token string)

	writeMu sync.Mutex
	conn    *websocket.Conn

	ackMu   sync.Mutex
	pending map[uint64]chan json.RawMessage
	nextAck uint64

	backoff *backoff.ExponentialBackOff

	oneShotDelay atomic.Int64 // nanoseconds; 0 means "use backoff default"
}

// New constructs a Session. identity is called fresh on every connect
// attempt (handshake fields like availableDiskSpace drift over time).
// currentStatus returns the probe's current status string for the
// immediate post-connect announcement. The dispatcher is wired
// separately via SetDispatcher, since the dispatcher itself is
// constructed with this Session as its frame sender - a two-phase
// wire-up that breaks the otherwise-circular dependency.
func New(log *slog.Logger, cfg Config, identity func() probeid.Identity, currentStatus func() string) *Session {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectionDelay
	bo.MaxInterval = cfg.ReconnectionDelayMax
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0

	return &Session{
		log:           log,
		cfg:           cfg,
		dial:          dialWebsocket,
		exit:          os.Exit,
		identity:      identity,
		currentStatus: currentStatus,
		pending:       make(map[uint64]chan json.RawMessage),
		backoff:       bo,
	}
}

// SetDispatcher wires the job dispatcher that handles incoming
// probe:measurement:request frames. Must be called before Run.
func (s *Session) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// OnAltIPsToken registers the callback invoked when the server pushes an
// api:connect:alt-ips-token event (spec.md §4.J, delegates to §4.G).
func (s *Session) OnAltIPsToken(fn func(token string)) { s.onAltIPsToken = fn }

// AnnounceStatus sends a probe:status:update frame outside the normal
// connect handshake - used by the status manager's onChange callback to
// push transitions immediately rather than waiting for a reconnect.
func (s *Session) AnnounceStatus(status string) {
	s.send("probe:status:update", status)
}

// Run dials, serves, and reconnects until ctx is cancelled. Honors
// connect_error classification delays (spec.md §4.J) between attempts.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndServe(ctx)
		if errors.Is(err, errExitRequested) {
			s.log.Info("invalid probe version, exiting for supervisor restart")
			s.exit(0)
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay := s.nextDelay()
		telemetry.Global().RecordReconnect(ctx)
		s.log.Warn("channel disconnected, reconnecting", "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

var errExitRequested = errors.New("channel: invalid probe version")

// serverDisconnectReason is the reason string the control plane sends
// when it closes the connection itself, rather than the client dropping
// out (spec.md §4.J "disconnect(reason)").
const serverDisconnectReason = "io server disconnect"

func (s *Session) nextDelay() time.Duration {
	if d := s.oneShotDelay.Swap(0); d != 0 {
		return time.Duration(d)
	}
	return s.backoff.NextBackOff()
}

// connectAndServe performs one connect attempt and, on success, serves
// the read loop until the connection drops or ctx is cancelled.
func (s *Session) connectAndServe(ctx context.Context) error {
	dialURL, err := buildDialURL(s.cfg.URL, s.identity())
	if err != nil {
		return fmt.Errorf("channel: build dial url: %w", err)
	}

	conn, err := s.dial(ctx, dialURL, s.cfg.HandshakeTimeout)
	if err != nil {
		class := classifyConnectError(err)
		switch class {
		case classExit:
			return errExitRequested
		case classProbe:
			s.oneShotDelay.Store(int64(s.cfg.ProbeClassDelay))
		case classAPI:
			s.oneShotDelay.Store(int64(s.cfg.APIClassDelay))
		}
		return fmt.Errorf("connect_error: %w", err)
	}

	s.backoff.Reset()
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	s.handleConnect()

	defer func() {
		s.writeMu.Lock()
		s.conn = nil
		s.writeMu.Unlock()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn("channel received malformed frame", "error", err)
			continue
		}
		s.route(ctx, env)
	}
}

func (s *Session) route(ctx context.Context, env envelope) {
	if env.Event == "ack" {
		s.resolveAck(env.AckID, env.Data)
		return
	}

	switch env.Event {
	case "api:connect:location":
		s.log.Info("geoip info", "data", string(env.Data))
	case "api:connect:adoption":
		s.log.Info("adoption hint", "data", string(env.Data))
	case "api:connect:alt-ips-token":
		var token string
		_ = json.Unmarshal(env.Data, &token)
		if s.onAltIPsToken != nil {
			s.onAltIPsToken(token)
		}
	case "probe:measurement:request":
		s.handleMeasurementRequest(ctx, env)
	case "probe:sigkill":
		s.log.Warn("probe:sigkill received, exiting immediately")
		s.exit(1)
	case "probe:adoption:code":
		s.logAdoptionBanner(env.Data)
	case "disconnect":
		var reason string
		_ = json.Unmarshal(env.Data, &reason)
		s.log.Info("server disconnect", "reason", reason)
		if reason == serverDisconnectReason {
			// Server-initiated: skip the backoff wait on the next
			// reconnect. 0 is the "unset" sentinel nextDelay checks
			// for, so a 1ns one-shot delay is used to mean "immediate"
			// without changing that mechanism.
			s.oneShotDelay.Store(int64(time.Nanosecond))
		}
	default:
		s.log.Debug("unhandled channel event", "event", env.Event)
	}
}

// handleConnect runs the spec.md §4.J "connect" action: announce current
// status and, if ADOPTION_TOKEN is set in the environment, the
// adoption token.
func (s *Session) handleConnect() {
	s.log.Info("channel connected")
	s.send("probe:status:update", s.currentStatus())
	if tok := os.Getenv("ADOPTION_TOKEN"); tok != "" {
		s.send("probe:adoption:token", tok)
	}
}

// handleMeasurementRequest implements spec.md §4.J "Dispatch": ack is
// taken exactly when the dispatcher accepts the request, never before.
func (s *Session) handleMeasurementRequest(ctx context.Context, env envelope) {
	var req measure.Request
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.log.Warn("malformed measurement request", "error", err)
		return
	}
	if s.dispatcher == nil {
		s.log.Error("measurement request received before dispatcher was wired")
		return
	}
	ackID := env.AckID
	s.dispatcher.Dispatch(ctx, req, func() {
		s.sendAck(ackID, nil)
	})
}

func (s *Session) logAdoptionBanner(data json.RawMessage) {
	var code string
	_ = json.Unmarshal(data, &code)
	banner := fmt.Sprintf("\n+----------------------------------+\n| Adoption code: %-18s|\n+----------------------------------+", code)
	s.log.Info(banner)
}

// EmitProgress implements internal/dispatch.Sender.
func (s *Session) EmitProgress(testID, measurementID string, overwrite bool, result map[string]any) {
	s.send("probe:measurement:progress", map[string]any{
		"testId":        testID,
		"measurementId": measurementID,
		"overwrite":     overwrite,
		"result":        result,
	})
}

// EmitResult implements internal/dispatch.Sender.
func (s *Session) EmitResult(testID, measurementID string, result map[string]any) {
	s.send("probe:measurement:result", map[string]any{
		"testId":        testID,
		"measurementId": measurementID,
		"result":        result,
	})
}

// EmitAltIPs implements internal/altip.Sender.
func (s *Session) EmitAltIPs(ctx context.Context, pairs [][2]string) (altip.AckResult, error) {
	reply, err := s.sendWithAck(ctx, "probe:alt-ips", pairs)
	if err != nil {
		return altip.AckResult{}, err
	}
	var ack struct {
		AddedAltIPs          []string          `json:"addedAltIps"`
		RejectedIPsToReasons map[string]string `json:"rejectedIpsToReasons"`
	}
	if err := json.Unmarshal(reply, &ack); err != nil {
		return altip.AckResult{}, fmt.Errorf("channel: decode alt-ips ack: %w", err)
	}
	return altip.AckResult{AddedAltIPs: ack.AddedAltIPs, RejectedIPsToReasons: ack.RejectedIPsToReasons}, nil
}

// EmitStats implements internal/metricsreport.Sender.
func (s *Session) EmitStats(report metricsreport.Report) {
	s.send("probe:stats:report", report)
}

// SendLogs implements internal/logsink.Sender.
func (s *Session) SendLogs(ctx context.Context, logs []logsink.Record, skipped int) (bool, error) {
	reply, err := s.sendWithAck(ctx, "probe:logs", map[string]any{"logs": logs, "skipped": skipped})
	if err != nil {
		return false, err
	}
	var ack string
	_ = json.Unmarshal(reply, &ack)
	return ack == "success", nil
}

// send writes a fire-and-forget frame. Silently drops if not currently
// connected - the caller's retry/flush-cycle semantics tolerate loss
// between reconnects (spec.md: "at-most-once delivery").
func (s *Session) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("channel: marshal outbound frame", "event", event, "error", err)
		return
	}
	s.writeRaw(envelope{Event: event, Data: payload})
}

func (s *Session) sendAck(ackID uint64, data any) {
	payload, _ := json.Marshal(data)
	s.writeRaw(envelope{Event: "ack", Data: payload, AckID: ackID})
}

// sendWithAck writes a frame carrying a fresh ack ID and blocks until the
// matching "ack" envelope arrives, ctx is cancelled, or AckTimeout
// elapses.
func (s *Session) sendWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("channel: marshal %s: %w", event, err)
	}

	id := atomic.AddUint64(&s.nextAck, 1)
	reply := make(chan json.RawMessage, 1)

	s.ackMu.Lock()
	s.pending[id] = reply
	s.ackMu.Unlock()
	defer func() {
		s.ackMu.Lock()
		delete(s.pending, id)
		s.ackMu.Unlock()
	}()

	if !s.writeRaw(envelope{Event: event, Data: payload, AckID: id}) {
		return nil, fmt.Errorf("channel: not connected, dropped %s", event)
	}

	timeout := s.cfg.AckTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("channel: ack timeout for %s", event)
	case r := <-reply:
		return r, nil
	}
}

func (s *Session) resolveAck(id uint64, data json.RawMessage) {
	s.ackMu.Lock()
	ch, ok := s.pending[id]
	s.ackMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- data:
	default:
	}
}

// writeRaw serializes the frame under the write mutex (spec.md §5: "the
// outbound channel is the only shared mutable resource on the hot path;
// writes are serialised"). Returns false if there is currently no live
// connection.
func (s *Session) writeRaw(env envelope) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return false
	}
	if err := s.conn.WriteJSON(env); err != nil {
		s.log.Warn("channel write failed", "event", env.Event, "error", err)
		return false
	}
	return true
}

func dialWebsocket(ctx context.Context, rawURL string, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

// buildDialURL appends the handshake identity as URL query parameters to
// <api.host>/probes (spec.md §4.J "send a query payload").
func buildDialURL(apiHost string, id probeid.Identity) (string, error) {
	u, err := url.Parse(apiHost)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/probes"

	raw, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", err
	}

	q := url.Values{}
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			q.Set(k, s)
			continue
		}
		q.Set(k, strings.Trim(string(v), `"`))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connectErrorClass buckets a connect_error message per spec.md §4.J.
type connectErrorClass int

const (
	classGeneric connectErrorClass = iota
	classExit
	classProbe
	classAPI
)

var probeClassPatterns = []string{"ip limit", "vpn detected", "unresolvable geoip"}

func classifyConnectError(err error) connectErrorClass {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid probe version") {
		return classExit
	}
	for _, p := range probeClassPatterns {
		if strings.Contains(msg, p) {
			return classProbe
		}
	}
	if strings.Contains(msg, "failed to collect probe metadata") {
		return classAPI
	}
	return classGeneric
}
