package ping

import (
	"regexp"
	"strconv"
	"strings"
)

// Packet is one parsed echo reply row.
type Packet struct {
	TTL int
	RTT float64
}

// Stats is the parsed summary block.
type Stats struct {
	Min, Avg, Max, Mdev float64
	Transmitted, Received int
	LossPercent         float64
}

// Result is the full parsed ping output.
type Result struct {
	ResolvedAddress string
	Packets         []Packet
	Stats           Stats
	Failed          bool
}

var (
	headerRe = regexp.MustCompile(`^PING\s+\S+\s+\(([^)]+)\)`)
	rowRe    = regexp.MustCompile(`icmp_seq=\d+\s+ttl=(\d+)\s+time=([\d.]+)\s*ms`)
	statsRe  = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	lossRe   = regexp.MustCompile(`([\d.]+)% packet loss`)
	rttRe    = regexp.MustCompile(`= ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+)`)
)

// Parse reads raw ping(8) stdout. A missing PING header means the tool
// never started the measurement (e.g. unresolved host) and the result is
// marked failed per spec.md §4.A.
func Parse(raw string) Result {
	lines := strings.Split(raw, "\n")
	var res Result
	res.Failed = true

	for _, line := range lines {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			res.ResolvedAddress = m[1]
			res.Failed = false
			continue
		}
		if m := rowRe.FindStringSubmatch(line); m != nil {
			ttl, _ := strconv.Atoi(m[1])
			rtt, _ := strconv.ParseFloat(m[2], 64)
			res.Packets = append(res.Packets, Packet{TTL: ttl, RTT: rtt})
			continue
		}
		if m := statsRe.FindStringSubmatch(line); m != nil {
			res.Stats.Transmitted, _ = strconv.Atoi(m[1])
			res.Stats.Received, _ = strconv.Atoi(m[2])
		}
		if m := lossRe.FindStringSubmatch(line); m != nil {
			res.Stats.LossPercent, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := rttRe.FindStringSubmatch(line); m != nil {
			res.Stats.Min, _ = strconv.ParseFloat(m[1], 64)
			res.Stats.Avg, _ = strconv.ParseFloat(m[2], 64)
			res.Stats.Max, _ = strconv.ParseFloat(m[3], 64)
			res.Stats.Mdev, _ = strconv.ParseFloat(m[4], 64)
		}
	}

	return res
}
