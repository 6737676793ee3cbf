package mtr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
	"github.com/globalping/probe-agent/internal/progressbuf"
)

// Executor implements measure.Executor for mtr.
type Executor struct{}

func (Executor) Kind() measure.Kind { return measure.KindMTR }

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

	buf := progressbuf.New(progressbuf.ModeOverwrite, progressbuf.DefaultInterval, func(f progressbuf.Frame) {
		sink.Progress(stringFieldsToAny(f.Fields), f.Overwrite)
	})

	onLine := func(line string) {
		sb = append(sb, []byte(line+"\n")...)
		hops := Parse(string(sb))

		if !privateHit {
			for _, h := range hops {
				if h.ResolvedAddress != "" && privateip.IsPrivateLiteral(h.ResolvedAddress) {
					privateHit = true
					proc.Kill()
					break
				}
			}
		}

		if opts.InProgressUpdates {
			buf.PushProgress(map[string]string{"rawOutput": RenderTable(hops)})
		}
	}

	result := proc.Run(ctx, measure.CommandTimeout(), "mtr", BuildArgs(opts), onLine)
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
		hops := Parse(result.Stdout)
		sink.Result(map[string]any{
			"status":    measure.StatusFinished,
			"rawOutput": RenderTable(hops),
			"hops":      hopsToAny(hops),
		})
	}

	_ = jobID
}

// RenderTable renders the currently-known hops as the LDRAVM-style table
// mtr itself would print, since the overwrite-mode progress buffer
// carries a freshly rendered table on every emission rather than a raw
// tail of --raw tokens.
func RenderTable(hops []Hop) string {
	var b strings.Builder
	b.WriteString("Host                                     Loss%   Snt   Last   Avg  Best  Wrst StDev\n")
	for i, h := range hops {
		st := ComputeStats(h)
		name := h.ResolvedHostname
		if name == "" {
			name = h.ResolvedAddress
		}
		if name == "" {
			name = "???"
		}
		last := 0.0
		for j := len(h.Timings) - 1; j >= 0; j-- {
			if h.Timings[j] != nil {
				last = *h.Timings[j]
				break
			}
		}
		fmt.Fprintf(&b, "%2d. %-35s %5.1f%% %5d %6.1f %5.1f %5.1f %5.1f %5.1f\n",
			i+1, name, st.LossPercent, st.Count, last, st.Avg, st.Min, st.Max, st.StdDev)
	}
	return b.String()
}

func hopsToAny(hops []Hop) []map[string]any {
	out := make([]map[string]any, 0, len(hops))
	for _, h := range hops {
		st := ComputeStats(h)
		timings := make([]map[string]any, 0, len(h.Timings))
		for _, t := range h.Timings {
			if t == nil {
				timings = append(timings, map[string]any{"rtt": nil})
				continue
			}
			timings = append(timings, map[string]any{"rtt": *t})
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
			"duplicate":        h.Duplicate,
			"timings":          timings,
			"stats": map[string]any{
				"count":       st.Count,
				"received":    st.Received,
				"dropped":     st.Dropped,
				"loss":        st.LossPercent,
				"avg":         st.Avg,
				"min":         st.Min,
				"max":         st.Max,
				"stDev":       st.StdDev,
				"jMin":        st.JitterMin,
				"jMax":        st.JitterMax,
				"jAvg":        st.JitterAvg,
			},
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
