// Package dns implements the dig(1)-backed dns measurement executor,
// covering both classic lookups and +trace runs.
package dns

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
	"github.com/globalping/probe-agent/internal/progressbuf"
)

// Executor implements measure.Executor for dns.
type Executor struct{}

func (Executor) Kind() measure.Kind { return measure.KindDNS }

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
			buf.PushProgress(map[string]string{"rawOutput": maskResolverLine(line) + "\n"})
		}
		if privateHit {
			return
		}
		if m := serverRe.FindStringSubmatch(line); m != nil && privateip.IsPrivateLiteral(m[1]) {
			privateHit = true
			proc.Kill()
		}
	}

	result := proc.Run(ctx, measure.CommandTimeout(), "dig", BuildArgs(opts), onLine)
	buf.Abort()

	switch {
	case privateHit:
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": measure.PrivateIPMessage,
		})
		return
	case result.TimedOut:
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": result.Stdout + "\nThe measurement command timed out.",
		})
		return
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
		return
	}

	masked := maskResolverOutput(result.Stdout)

	if opts.Trace {
		hops := ParseTrace(result.Stdout)
		sink.Result(map[string]any{
			"status":    measure.StatusFinished,
			"rawOutput": masked,
			"hops":      hopsToAny(hops),
		})
		return
	}

	parsed, perr := ParseClassic(result.Stdout)
	if perr != nil {
		sink.Result(map[string]any{
			"status":    measure.StatusFailed,
			"rawOutput": perr.Error(),
		})
		return
	}
	sink.Result(map[string]any{
		"status":    measure.StatusFinished,
		"rawOutput": masked,
		"resolver":  privateip.MaskDNSServersList([]string{parsed.Resolver})[0],
		"answers":   answersToAny(parsed.Answers),
		"timings":   map[string]any{"total": parsed.TimingsTotal},
	})

	_ = jobID
}

// maskResolverLine masks a private resolver address on a single line of
// dig output before it reaches the progress stream.
func maskResolverLine(line string) string {
	if m := serverRe.FindStringSubmatch(line); m != nil && privateip.IsPrivateLiteral(m[1]) {
		return strings.Replace(line, m[1], "x.x.x.x", 1)
	}
	return line
}

func maskResolverOutput(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = maskResolverLine(l)
	}
	return strings.Join(lines, "\n")
}

func answersToAny(answers []Answer) []map[string]any {
	out := make([]map[string]any, 0, len(answers))
	for _, a := range answers {
		out = append(out, map[string]any{
			"name": a.Name, "type": a.Type, "ttl": a.TTL, "class": a.Class, "value": a.Value,
		})
	}
	return out
}

func hopsToAny(hops []TraceHop) []map[string]any {
	out := make([]map[string]any, 0, len(hops))
	for _, h := range hops {
		out = append(out, map[string]any{
			"resolver": privateip.MaskDNSServersList([]string{h.Resolver})[0],
			"timings":  map[string]any{"total": h.TimingsTotal},
			"answers":  answersToAny(h.Answers),
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
