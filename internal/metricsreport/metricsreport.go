// Package metricsreport periodically samples host CPU load and in-flight
// job count and emits probe:stats:report (spec.md §6). Grounded on
// cmd/agent/main.go's collectMetrics (teacher samples cpu.Percent on a
// ticker and posts a metrics sample over HTTP); generalized here to emit
// over the channel instead of HTTP, and narrowed to the single
// {cpu,jobs} shape spec.md defines.
package metricsreport

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Sender emits probe:stats:report frames.
type Sender interface {
	EmitStats(report Report)
}

// InFlightCounter reports the dispatcher's current job count.
type InFlightCounter interface {
	InFlight() int
}

// Report mirrors spec.md §6's probe:stats:report payload.
type Report struct {
	CPU  CPUStats `json:"cpu"`
	Jobs JobStats `json:"jobs"`
}

type CPUStats struct {
	Load []CPULoad `json:"load"`
}

type CPULoad struct {
	Usage float64 `json:"usage"`
}

type JobStats struct {
	Count int `json:"count"`
}

// Reporter owns the periodic sampling loop. Not a global singleton:
// constructed once in cmd/probe.
type Reporter struct {
	interval time.Duration
	sender   Sender
	jobs     InFlightCounter
}

// New constructs a Reporter sampling every interval (config's
// stats.interval, spec.md §6).
func New(interval time.Duration, sender Sender, jobs InFlightCounter) *Reporter {
	return &Reporter{interval: interval, sender: sender, jobs: jobs}
}

// Run ticks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *Reporter) sample() {
	report := Report{Jobs: JobStats{Count: r.jobs.InFlight()}}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		report.CPU.Load = []CPULoad{{Usage: pct[0]}}
	}

	r.sender.EmitStats(report)
}
