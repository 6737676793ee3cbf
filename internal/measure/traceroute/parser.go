package traceroute

import (
	"regexp"
	"strconv"
	"strings"
)

// Timing is a single RTT sample for a hop, or the "*" sentinel if the
// probe at that position got no reply.
type Timing struct {
	RTT    float64
	Missed bool
}

// Hop is one traceroute line.
type Hop struct {
	ResolvedAddress  string // "" (normalised to null downstream) if unresolved
	ResolvedHostname string
	Timings          []Timing
}

var (
	headerRe = regexp.MustCompile(`^traceroute to\s+\S+\s+\(([^)]+)\)`)
	hopLineRe = regexp.MustCompile(`^\s*\d+\s+(.*)$`)
	addrRe    = regexp.MustCompile(`^(\S+)\s+\(([^)]+)\)`)
	rttRe     = regexp.MustCompile(`([\d.]+)\s*ms`)
)

// Parse reads raw traceroute(8) stdout, returning the destination address
// from the header and the ordered hop list. The first hop's hostname is
// rewritten to "_gateway" per spec.md §4.D to avoid exposing the LAN
// gateway's real name.
func Parse(raw string) (destAddress string, hops []Hop) {
	lines := strings.Split(raw, "\n")

	for i, line := range lines {
		if i == 0 {
			if m := headerRe.FindStringSubmatch(line); m != nil {
				destAddress = m[1]
			}
			continue
		}
		m := hopLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hops = append(hops, parseHopBody(m[1]))
	}

	if len(hops) > 0 {
		hops[0].ResolvedHostname = "_gateway"
	}

	return destAddress, hops
}

func parseHopBody(body string) Hop {
	var hop Hop

	if m := addrRe.FindStringSubmatch(body); m != nil {
		hop.ResolvedHostname = m[1]
		hop.ResolvedAddress = m[2]
		body = body[len(m[0]):]
	}

	tokens := strings.Fields(body)
	for _, tok := range tokens {
		if tok == "*" {
			hop.Timings = append(hop.Timings, Timing{Missed: true})
			continue
		}
		if m := rttRe.FindStringSubmatch(tok + " ms"); m != nil {
			rtt, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				hop.Timings = append(hop.Timings, Timing{RTT: rtt})
			}
		}
	}

	return hop
}
