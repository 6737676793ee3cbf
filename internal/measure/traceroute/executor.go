// Package traceroute implements the traceroute(8)-backed measurement
// executor.
package traceroute

import (
	"context"
	"encoding/json"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
	"github.com/globalping/probe-agent/internal/progressbuf"
)

// Executor implements measure.Executor for traceroute.
type Executor struct{}

func (Executor) Kind() measure.Kind { return measure.KindTraceroute }

func (Executor) Run(ctx context.Context, sink measure.Sink, jobID string, rawOptions json.RawMessage) {
	opts, err := Validate(func(v any) error { return json.Unmarshal(rawOptions, v) })
	if err != nil {
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": err.Error(),
		})
		return
	}

	proc := &measure.Proc{}
	var privateHit bool
	var sb []byte

	buf := progressbuf.New(progressbuf.ModeDiff, progressbuf.DefaultInterval, func(f progressbuf.Frame) {
		sink.Progress(stringFieldsToAny(f.Fields), f.Overwrite)
	})

	onLine := func(line string) {
		sb = append(sb, []byte(line+"\n")...)
		if opts.InProgressUpdates {
			buf.PushProgress(map[string]string{"rawOutput": string(sb)})
		}
		if privateHit {
			return
		}
		destAddress, _ := Parse(string(sb))
		if destAddress != "" && privateip.IsPrivateLiteral(destAddress) {
			privateHit = true
			proc.Kill()
		}
	}

	result := proc.Run(ctx, measure.CommandTimeout(), "traceroute", BuildArgs(opts), onLine)
	buf.Abort()

	switch {
	case privateHit:
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": measure.PrivateIPMessage,
		})
	case result.TimedOut:
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": result.Stdout + "\nThe measurement command timed out.",
		})
	case result.Err != nil:
		out := result.Stderr
		if out == "" {
			out = result.Stdout
		}
		if out == "" {
			out = measure.GenericFailureMessage
		}
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": out,
		})
	default:
		destAddress, hops := Parse(result.Stdout)
		if destAddress == "" {
			sink.Result(map[string]any{
				"status":    measure.StatusFailed,
				"rawOutput": measure.GenericFailureMessage,
			})
			return
		}
		sink.Result(map[string]any{
			"status":          measure.StatusFinished,
			"resolvedAddress": destAddress,
			"rawOutput":       result.Stdout,
			"hops":            hopsToAny(hops),
		})
	}

	_ = jobID
}

func hopsToAny(hops []Hop) []map[string]any {
	out := make([]map[string]any, 0, len(hops))
	for _, h := range hops {
		timings := make([]map[string]any, 0, len(h.Timings))
		for _, t := range h.Timings {
			if t.Missed {
				timings = append(timings, map[string]any{"rtt": nil})
				continue
			}
			timings = append(timings, map[string]any{"rtt": t.RTT})
		}
		var resolvedAddress, resolvedHostname any
		if h.ResolvedAddress != "" {
			resolvedAddress = h.ResolvedAddress
		}
		if h.ResolvedHostname != "" {
			resolvedHostname = h.ResolvedHostname
		}
		out = append(out, map[string]any{
			"resolvedAddress":  resolvedAddress,
			"resolvedHostname": resolvedHostname,
			"timings":          timings,
		})
	}
	return out
}

func stringFieldsToAny(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
