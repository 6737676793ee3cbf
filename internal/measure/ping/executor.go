// Package ping implements the ping(8) measurement executor: argument
// construction, output parsing, and the Run loop wiring a Proc through a
// progressbuf.Buffer to a measure.Sink, grounded on
// internal/worker/assignment_executor.go's goroutine-per-stage shape.
package ping

import (
	"context"
	"encoding/json"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
	"github.com/globalping/probe-agent/internal/progressbuf"
)

// Executor implements measure.Executor for ping.
type Executor struct{}

func (Executor) Kind() measure.Kind { return measure.KindPing }

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

	buf := progressbuf.New(progressbuf.ModeAppend, progressbuf.DefaultInterval, func(f progressbuf.Frame) {
		sink.Progress(stringFieldsToAny(f.Fields), f.Overwrite)
	})

	onLine := func(line string) {
		if opts.InProgressUpdates {
			buf.PushProgress(map[string]string{"rawOutput": line + "\n"})
		}
		if privateHit {
			return
		}
		parsed := Parse(line)
		if parsed.ResolvedAddress != "" && privateip.IsPrivateLiteral(parsed.ResolvedAddress) {
			privateHit = true
			proc.Kill()
		}
	}

	result := proc.Run(ctx, measure.CommandTimeout(), "ping", BuildArgs(opts), onLine)
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
		parsed := Parse(result.Stdout)
		if parsed.Failed {
			sink.Result(map[string]any{
				"status":    measure.StatusFailed,
				"rawOutput": measure.GenericFailureMessage,
			})
			return
		}
		sink.Result(finalResult(parsed, result.Stdout))
	}

	_ = jobID
}

func finalResult(parsed Result, raw string) map[string]any {
	packets := make([]map[string]any, 0, len(parsed.Packets))
	for _, p := range parsed.Packets {
		packets = append(packets, map[string]any{"ttl": p.TTL, "rtt": p.RTT})
	}
	return map[string]any{
		"status":          measure.StatusFinished,
		"resolvedAddress": parsed.ResolvedAddress,
		"rawOutput":       raw,
		"packets":         packets,
		"stats": map[string]any{
			"min":         parsed.Stats.Min,
			"avg":         parsed.Stats.Avg,
			"max":         parsed.Stats.Max,
			"mdev":        parsed.Stats.Mdev,
			"transmitted": parsed.Stats.Transmitted,
			"received":    parsed.Stats.Received,
			"loss":        parsed.Stats.LossPercent,
		},
	}
}

func stringFieldsToAny(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
