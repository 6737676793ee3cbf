// Package privateip classifies address literals as private/reserved and
// masks private DNS resolver addresses before they are surfaced to the
// control plane. Ranges are adapted from the SSRF validator's blocked-range
// tables (internal/validation/ssrf_validator.go in the teacher repo),
// simplified from a reporting validator into a pure boolean classifier.
package privateip

import (
	"net"
	"strings"
)

var ipv4Ranges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
)

var ipv6Ranges = mustParseCIDRs(
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsPrivate reports whether ip falls in a private, loopback, link-local, or
// other reserved range, per spec.md §4.B.
func IsPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range ipv4Ranges {
			if n.Contains(ip4) {
				return true
			}
		}
		return false
	}

	for _, n := range ipv6Ranges {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// IsPrivateLiteral parses addr (optionally with a trailing port suffix, in
// either "ip:port" or "[ipv6]:port" form) and reports whether it resolves
// to a private address literal. Non-IP-literal hostnames are never private.
func IsPrivateLiteral(addr string) bool {
	ip := parseLiteral(addr)
	if ip == nil {
		return false
	}
	return IsPrivate(ip)
}

// parseLiteral strips an optional port suffix and parses the remainder as
// an IP literal. Returns nil if addr is not an IP literal (e.g. a hostname).
func parseLiteral(addr string) net.IP {
	host := addr

	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx != -1 {
			host = addr[1:idx]
		}
	} else if strings.Count(addr, ":") == 1 {
		// "ip:port" form for IPv4 literals; a bare IPv6 literal has more
		// than one colon and must not be treated as having a port suffix.
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
	}

	return net.ParseIP(host)
}

// MaskDNSServersList substitutes the literal string "private" for any
// private entry while preserving order, per spec.md §4.B.
func MaskDNSServersList(servers []string) []string {
	out := make([]string, len(servers))
	for i, s := range servers {
		if IsPrivateLiteral(s) {
			out[i] = "private"
		} else {
			out[i] = s
		}
	}
	return out
}
