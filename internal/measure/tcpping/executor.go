package tcpping

import (
	"context"
	"encoding/json"
	"net"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
)

// Executor implements measure.Executor for tcp-ping. It is registered
// under measure.KindPing and selected at dispatch time when the ping
// options carry protocol:"tcp" (spec.md §4.D).
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

	address, err := Resolve(ctx, net.DefaultResolver, opts)
	if err != nil || address == "" {
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": measure.GenericFailureMessage,
		})
		return
	}
	if privateip.IsPrivateLiteral(address) {
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": measure.PrivateIPMessage,
		})
		return
	}

	probes, stats := Run(ctx, &net.Dialer{}, address, opts, func(p Probe) {
		if opts.InProgressUpdates {
			sink.Progress(map[string]any{"seq": p.Seq, "rtt": p.RTT, "failed": p.Failed}, false)
		}
	})

	sink.Result(map[string]any{
		"status":          measure.StatusFinished,
		"resolvedAddress": address,
		"probes":          probesToAny(probes),
		"stats": map[string]any{
			"min":   stats.Min,
			"avg":   stats.Avg,
			"max":   stats.Max,
			"mdev":  stats.Mdev,
			"rcv":   stats.Received,
			"drop":  stats.Dropped,
			"loss":  stats.LossPercent,
			"total": stats.Total,
			"time":  stats.Duration.Milliseconds(),
		},
	})

	_ = jobID
}

func probesToAny(probes []Probe) []map[string]any {
	out := make([]map[string]any, 0, len(probes))
	for _, p := range probes {
		out = append(out, map[string]any{"seq": p.Seq, "rtt": p.RTT, "failed": p.Failed})
	}
	return out
}
