// Package tcpping synthesises ping-shaped results from raw TCP connect
// timings instead of parsing a subprocess's stdout, per spec.md §4.D:
// "not a parser but a synthesiser". It is used both standalone and as the
// TCP-protocol path of the ping executor.
package tcpping

import (
	"context"
	"math"
	"net"
	"strconv"
	"time"
)

// Probe is one connect attempt's outcome.
type Probe struct {
	Seq     int
	RTT     float64 // milliseconds; zero value is meaningless when Failed
	Failed  bool
}

// Stats summarises a completed run, shaped after ping(8)'s own summary
// line (spec.md §4.D "Final statistics").
type Stats struct {
	Min, Avg, Max, Mdev float64
	Received, Dropped   int
	Total               int
	LossPercent         float64
	Duration            time.Duration
}

// Resolver resolves target to an address literal honouring ipVersion,
// satisfied by net.DefaultResolver in production and faked in tests.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Dialer opens one TCP connection, satisfied by &net.Dialer{} in
// production.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolve looks up opts.Target honouring opts.IPVersion and returns the
// first matching address literal.
func Resolve(ctx context.Context, r Resolver, opts Options) (string, error) {
	network := "ip4"
	if opts.IPVersion == 6 {
		network = "ip6"
	}
	if ip := net.ParseIP(opts.Target); ip != nil {
		return opts.Target, nil
	}
	ips, err := r.LookupIP(ctx, network, opts.Target)
	if err != nil || len(ips) == 0 {
		return "", err
	}
	return ips[0].String(), nil
}

// Run performs opts.Packets sequential connect probes to address, spaced
// by opts.Interval, and returns them in sequence order along with the
// derived Stats. RTT is measured from immediately before DialContext to
// the moment it returns.
func Run(ctx context.Context, dialer Dialer, address string, opts Options, onProbe func(Probe)) ([]Probe, Stats) {
	started := time.Now()
	probes := make([]Probe, 0, opts.Packets)

	for i := 0; i < opts.Packets; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		start := time.Now()
		conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(opts.Port)))
		rtt := time.Since(start)
		cancel()

		p := Probe{Seq: i}
		if err != nil {
			p.Failed = true
		} else {
			p.RTT = float64(rtt.Microseconds()) / 1000.0
			_ = conn.Close()
		}
		probes = append(probes, p)
		if onProbe != nil {
			onProbe(p)
		}

		if i < opts.Packets-1 {
			select {
			case <-ctx.Done():
				i = opts.Packets
			case <-time.After(opts.Interval):
			}
		}
	}

	return probes, computeStats(probes, time.Since(started))
}

func computeStats(probes []Probe, duration time.Duration) Stats {
	var st Stats
	st.Total = len(probes)
	st.Duration = duration

	var values []float64
	for _, p := range probes {
		if !p.Failed {
			values = append(values, p.RTT)
		}
	}
	st.Received = len(values)
	st.Dropped = st.Total - st.Received
	if st.Total > 0 {
		st.LossPercent = 100 * float64(st.Dropped) / float64(st.Total)
	}
	if len(values) == 0 {
		return st
	}

	st.Min, st.Max = values[0], values[0]
	sum := 0.0
	for _, v := range values {
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		sum += v
	}
	st.Avg = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - st.Avg
		variance += d * d
	}
	st.Mdev = math.Sqrt(variance / float64(len(values)))

	return st
}
