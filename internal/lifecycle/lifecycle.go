// Package lifecycle implements the self-update and uptime-restart loops
// (spec.md §4.I): poll the latest-release URL and compare it against the
// built-in version; separately cap total process uptime. Both loops ask
// the supervisor to restart the process by raising SIGTERM on themselves
// rather than restarting in place. Grounded on cmd/agent/main.go's
// HTTP-with-context-timeout request pattern and
// other_examples/arkeep-io-arkeep's connection-manager jitter(backoff)
// helper (±20% becomes spec.md's rand(0, maxDeviation)).
package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ReleaseCheckTimeout bounds a single release-document fetch (spec.md
// §4.I).
const ReleaseCheckTimeout = 15 * time.Second

// DefaultMaxUptime is uptime.maxUptime's default (spec.md §6).
const DefaultMaxUptime = 7 * 24 * time.Hour

// Config holds the tunables from spec.md §6 "update.*" / "uptime.*".
type Config struct {
	ReleaseURL           string
	UpdateInterval       time.Duration
	UpdateMaxDeviation   time.Duration
	UptimeInterval       time.Duration
	UptimeMaxDeviation   time.Duration
	UptimeMaxUptime      time.Duration
	Development          bool
}

// Runner owns both loops. Not a global singleton: constructed once in
// cmd/probe.
type Runner struct {
	log       *slog.Logger
	cfg       Config
	version   string
	client    *http.Client
	terminate func()
	startedAt time.Time
}

// New constructs a Runner. version is the probe's own built-in VERSION.
// terminate is invoked exactly once when either loop decides the process
// should exit for a supervisor-driven restart (spec.md: "kill(SIGTERM,
// self)").
func New(log *slog.Logger, cfg Config, version string, terminate func()) *Runner {
	return &Runner{
		log:       log,
		cfg:       cfg,
		version:   version,
		client:    &http.Client{},
		terminate: terminate,
		startedAt: time.Now(),
	}
}

// Run launches both loops as goroutines until ctx is cancelled. A no-op
// under the development environment flag (spec.md §4.I).
func (r *Runner) Run(ctx context.Context) {
	if r.cfg.Development {
		r.log.Info("lifecycle loops disabled in development")
		return
	}
	go r.updateLoop(ctx)
	go r.uptimeLoop(ctx)
}

func (r *Runner) updateLoop(ctx context.Context) {
	for {
		wait := jittered(r.cfg.UpdateInterval, r.cfg.UpdateMaxDeviation)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		r.checkForUpdate(ctx)
	}
}

func (r *Runner) checkForUpdate(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, ReleaseCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.cfg.ReleaseURL, nil)
	if err != nil {
		r.log.Warn("update check request build failed", "error", err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			r.log.Warn("update check timed out")
			return
		}
		r.log.Warn("update check failed", "error", err)
		return
	}
	defer resp.Body.Close()

	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		r.log.Warn("update check decode failed", "error", err)
		return
	}

	latest := strings.TrimPrefix(payload.TagName, "v")
	if compareVersions(latest, r.version) > 0 {
		r.log.Info("newer release available, requesting restart", "current", r.version, "latest", latest)
		r.terminate()
	}
}

func (r *Runner) uptimeLoop(ctx context.Context) {
	maxUptime := r.cfg.UptimeMaxUptime
	if maxUptime <= 0 {
		maxUptime = DefaultMaxUptime
	}
	for {
		wait := jittered(r.cfg.UptimeInterval, r.cfg.UptimeMaxDeviation)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if time.Since(r.startedAt) >= maxUptime {
			r.log.Info("uptime cap reached, requesting restart", "uptime", time.Since(r.startedAt).String())
			r.terminate()
			return
		}
	}
}

// jittered returns base + a uniformly random value in [0, maxDeviation).
func jittered(base, maxDeviation time.Duration) time.Duration {
	if maxDeviation <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(maxDeviation)))
}

// compareVersions performs a lexicographically-numeric dotted-version
// comparison (spec.md §4.I: "tag_name ... lexicographically-numerically
// greater than the built-in VERSION"). Returns >0 if a > b, 0 if equal,
// <0 if a < b. Non-numeric segments compare as equal-weight strings.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an > bn {
					return 1
				}
				return -1
			}
			continue
		}
		if av != bv {
			return strings.Compare(av, bv)
		}
	}
	return 0
}
