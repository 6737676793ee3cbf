// Package status implements the probe's self-health state machine
// (spec.md §4.F, §3.3): a periodic anchor-host ping check driving a
// small state machine advertised to the control plane on every
// transition. Grounded on
// other_examples/0348868b_PilotFiber-icmp-mon's state_machine.go
// transition-table style, adapted from a datastore-backed per-target
// machine into an in-memory single-probe machine.
package status

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/measure/ping"
)

// Status is one of the five probe lifecycle states (spec.md §3).
type Status string

const (
	Initializing   Status = "initializing"
	Ready          Status = "ready"
	UnbufferMissing Status = "unbuffer-missing"
	PingTestFailed  Status = "ping-test-failed"
	SigTerm         Status = "sigterm"
)

// CheckInterval is the fixed health-check cadence (spec.md §4.F).
const CheckInterval = 10 * time.Minute

// anchors are the fixed well-known hosts the status manager pings every
// round (spec.md §4.F).
var anchors = []string{"ns1.registry.in", "k.root-servers.net", "ns1.dns.nl"}

// LookPath is overridden in tests to fake PATH lookups.
var LookPath = exec.LookPath

// Manager owns the probe's status state machine. Not a global singleton:
// one instance is constructed in cmd/probe and passed to whatever needs
// to observe or gate on status (spec.md §9 design note).
type Manager struct {
	log      *slog.Logger
	packets  int
	onChange func(Status)

	mu      sync.RWMutex
	current Status

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Manager. packets is the anchor ping count (spec.md §6
// status.numberOfPackets, default 6). onChange is invoked synchronously on
// every transition and should emit probe:status:update without blocking.
func New(log *slog.Logger, packets int, onChange func(Status)) *Manager {
	if packets <= 0 {
		packets = 6
	}
	return &Manager{
		log:      log,
		packets:  packets,
		onChange: onChange,
		current:  Initializing,
	}
}

// Current returns the current status.
func (m *Manager) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsReady reports whether the dispatcher should currently accept new
// measurement requests (spec.md §4.F "Gating effect on dispatcher").
func (m *Manager) IsReady() bool {
	return m.Current() == Ready
}

// Start checks the unbuffer(1) prerequisite, then - if present - runs the
// health check immediately and every CheckInterval thereafter until ctx
// is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if _, err := LookPath("unbuffer"); err != nil {
		m.setStatus(UnbufferMissing)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(runCtx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	m.runCheck(ctx)

	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCheck(ctx)
		}
	}
}

// runCheck pings all three anchors concurrently and applies the
// at-least-two-of-three rule (spec.md §4.F).
func (m *Manager) runCheck(ctx context.Context) {
	type outcome struct {
		host string
		ok   bool
		err  error
	}
	results := make(chan outcome, len(anchors))

	for _, host := range anchors {
		go func(host string) {
			ok, err := m.pingAnchor(ctx, host)
			results <- outcome{host: host, ok: ok, err: err}
		}(host)
	}

	successes := 0
	for range anchors {
		o := <-results
		switch {
		case o.err != nil:
			m.log.Warn("anchor ping rejected", "host", o.host, "reason", o.err.Error())
		case !o.ok:
			m.log.Warn("anchor ping failed", "host", o.host)
		default:
			successes++
		}
	}

	if successes >= 2 {
		m.setStatus(Ready)
	} else {
		m.setStatus(PingTestFailed)
	}
}

func (m *Manager) pingAnchor(ctx context.Context, host string) (bool, error) {
	opts := ping.Options{Target: host, Packets: m.packets, IPVersion: 4}
	proc := &measure.Proc{}
	result := proc.Run(ctx, 25*time.Second, "ping", ping.BuildArgs(opts), nil)
	if result.Err != nil {
		return false, result.Err
	}
	parsed := ping.Parse(result.Stdout)
	if parsed.Failed {
		return false, nil
	}
	return parsed.Stats.LossPercent == 0, nil
}

// Stop transitions to reason (sigterm on graceful shutdown) and halts the
// periodic check loop. Terminal: no further transitions occur.
func (m *Manager) Stop(reason Status) {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.setStatus(reason)
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	changed := m.current != s
	m.current = s
	m.mu.Unlock()

	if changed {
		m.log.Info("probe status changed", "status", string(s))
		if m.onChange != nil {
			m.onChange(s)
		}
	}
}
