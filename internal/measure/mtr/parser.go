// Package mtr implements the mtr(8)-backed measurement executor, driven
// entirely off the `--raw` token stream rather than mtr's human-oriented
// table output.
package mtr

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Hop is one resolved step of the path, with one Timing per probe sent to
// it (in send order; unfilled entries are nil RTT).
type Hop struct {
	Index            int
	ResolvedAddress  string
	ResolvedHostname string
	Duplicate        bool
	Timings          []*float64 // milliseconds; nil until a matching "p" token arrives
}

// Stats summarises a hop's timings.
type Stats struct {
	Count               int
	Received            int
	Dropped             int
	LossPercent         float64
	Avg, Min, Max, StdDev float64
	JitterMin, JitterMax, JitterAvg float64
}

type hopState struct {
	index   int
	address string
	host    string
	dup     bool
	timings []*float64
}

// Parse consumes the `mtr --raw` token stream and returns the path's hops
// in index order, trailing unresolved hops dropped (spec.md §4.A).
func Parse(raw string) []Hop {
	states := map[int]*hopState{}
	var order []int

	getState := func(idx int) *hopState {
		s, ok := states[idx]
		if !ok {
			s = &hopState{index: idx}
			states[idx] = s
			order = append(order, idx)
		}
		return s
	}

	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		s := getState(idx)

		switch fields[0] {
		case "h":
			if len(fields) < 3 {
				continue
			}
			addr := fields[2]
			if s.address != "" && s.address == addr {
				s.dup = true
			} else {
				s.address = addr
			}
		case "d":
			if len(fields) < 3 {
				continue
			}
			s.host = fields[2]
		case "x":
			s.timings = append(s.timings, nil)
		case "p":
			if len(fields) < 3 {
				continue
			}
			usec, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				continue
			}
			ms := usec / 1000.0
			filled := false
			for i := len(s.timings) - 1; i >= 0; i-- {
				if s.timings[i] == nil {
					s.timings[i] = &ms
					filled = true
					break
				}
			}
			if !filled {
				s.timings = append(s.timings, &ms)
			}
		}
	}

	sort.Ints(order)

	hops := make([]Hop, 0, len(order))
	for _, idx := range order {
		s := states[idx]
		hops = append(hops, Hop{
			Index:            s.index,
			ResolvedAddress:  s.address,
			ResolvedHostname: s.host,
			Duplicate:        s.dup,
			Timings:          s.timings,
		})
	}

	// Trailing unresolved hops are dropped; earlier unresolved hops are
	// kept since they may precede a resolved one (e.g. a hop that only
	// ever timed out but sits before the destination in the path).
	for len(hops) > 0 && hops[len(hops)-1].ResolvedAddress == "" {
		hops = hops[:len(hops)-1]
	}

	return hops
}

// ComputeStats derives the summary statistics for one hop's timings.
func ComputeStats(h Hop) Stats {
	var st Stats
	st.Count = len(h.Timings)

	var values []float64
	for _, t := range h.Timings {
		if t != nil {
			values = append(values, *t)
		}
	}
	st.Received = len(values)
	st.Dropped = st.Count - st.Received
	if st.Count > 0 {
		st.LossPercent = 100 * float64(st.Dropped) / float64(st.Count)
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
	variance /= float64(len(values))
	st.StdDev = math.Sqrt(variance)

	if len(values) > 1 {
		var diffs []float64
		for i := 1; i < len(values); i++ {
			diffs = append(diffs, math.Abs(values[i]-values[i-1]))
		}
		st.JitterMin, st.JitterMax = diffs[0], diffs[0]
		jsum := 0.0
		for _, d := range diffs {
			if d < st.JitterMin {
				st.JitterMin = d
			}
			if d > st.JitterMax {
				st.JitterMax = d
			}
			jsum += d
		}
		st.JitterAvg = jsum / float64(len(diffs))
	}

	return st
}
