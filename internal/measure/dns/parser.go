package dns

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Answer is one parsed ANSWER SECTION row.
type Answer struct {
	Name  string
	Type  string
	TTL   int
	Class string
	Value string
}

// ClassicResult is the parsed output of a non-trace dig invocation.
type ClassicResult struct {
	Answers       []Answer
	Resolver      string
	TimingsTotal  int // milliseconds, from "Query time: N msec"
}

// ParseError reports a dig output that could not be parsed at all.
type ParseError struct {
	LastLine string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dns: unparsable dig output, last line: %q", e.LastLine)
}

var (
	sectionRe  = regexp.MustCompile(`^;;\s+(\S+)\s+SECTION:`)
	queryTimeRe = regexp.MustCompile(`Query time:\s+(\d+)\s+msec`)
	serverRe    = regexp.MustCompile(`SERVER:.*\(([^)]+)\)`)
)

// ParseClassic implements the "Classic dig parser" from spec.md §4.A.
func ParseClassic(raw string) (ClassicResult, error) {
	lines := strings.Split(raw, "\n")

	nonEmpty := 0
	lastNonEmpty := ""
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
			lastNonEmpty = l
		}
	}
	if nonEmpty < 6 {
		return ClassicResult{}, &ParseError{LastLine: lastNonEmpty}
	}

	var res ClassicResult
	currentSection := ""

	for _, line := range lines {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			currentSection = m[1]
			continue
		}
		if m := queryTimeRe.FindStringSubmatch(line); m != nil {
			res.TimingsTotal, _ = strconv.Atoi(m[1])
			continue
		}
		if m := serverRe.FindStringSubmatch(line); m != nil {
			res.Resolver = m[1]
			continue
		}
		if currentSection == "ANSWER" && strings.TrimSpace(line) != "" && !strings.HasPrefix(strings.TrimSpace(line), ";") {
			if a, ok := parseAnswerRow(line); ok {
				res.Answers = append(res.Answers, a)
			}
		}
	}

	return res, nil
}

func parseAnswerRow(line string) (Answer, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Answer{}, false
	}
	ttl, _ := strconv.Atoi(fields[1])
	return Answer{
		Name:  fields[0],
		TTL:   ttl,
		Class: fields[2],
		Type:  fields[3],
		Value: strings.Join(fields[4:], " "),
	}, true
}

// TraceHop is one step of a +trace dig run.
type TraceHop struct {
	Resolver     string
	TimingsTotal int
	Answers      []Answer
}

var traceHeaderRe = regexp.MustCompile(`from .*\(([^)]+)\)\s+in\s+(\d+)\s+ms`)

// ParseTrace implements the "Trace dig parser" from spec.md §4.A.
func ParseTrace(raw string) []TraceHop {
	blocks := strings.Split(raw, "\n\n")

	var hops []TraceHop
	for _, block := range blocks {
		lines := strings.Split(block, "\n")
		var hop TraceHop
		started := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ";;") {
				if m := traceHeaderRe.FindStringSubmatch(trimmed); m != nil {
					hop.Resolver = m[1]
					hop.TimingsTotal, _ = strconv.Atoi(m[2])
					started = true
				}
				continue
			}
			if started {
				if a, ok := parseAnswerRow(line); ok {
					hop.Answers = append(hop.Answers, a)
				}
			}
		}
		if started {
			hops = append(hops, hop)
		}
	}

	return hops
}
