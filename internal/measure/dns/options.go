package dns

import "fmt"

var validTypes = map[string]bool{
	"A": true, "AAAA": true, "ANY": true, "CNAME": true, "DNSKEY": true,
	"DS": true, "MX": true, "NS": true, "NSEC": true, "PTR": true,
	"RRSIG": true, "SOA": true, "TXT": true, "SRV": true,
}

// Options is the validated dns measurement configuration (spec.md §6).
type Options struct {
	Target            string
	QueryType         string
	Protocol          string // "udp" or "tcp"
	Port              int
	Resolver          string
	Trace             bool
	IPVersion         int
	InProgressUpdates bool
}

type rawOptions struct {
	Target            string `json:"target"`
	QueryType         string `json:"queryType"`
	Protocol          string `json:"protocol"`
	Port              *int   `json:"port"`
	Resolver          string `json:"resolver"`
	Trace             bool   `json:"trace"`
	IPVersion         *int   `json:"ipVersion"`
	InProgressUpdates *bool  `json:"inProgressUpdates"`
}

// Validate decodes and defaults a dns options payload.
func Validate(decode func(any) error) (Options, error) {
	var raw rawOptions
	if err := decode(&raw); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	if raw.Target == "" {
		return Options{}, fmt.Errorf("invalid options: target is required")
	}

	opts := Options{
		Target:    raw.Target,
		QueryType: "A",
		Protocol:  "udp",
		Port:      53,
		Resolver:  raw.Resolver,
		Trace:     raw.Trace,
		IPVersion: 4,
	}
	if raw.QueryType != "" {
		opts.QueryType = raw.QueryType
	}
	if !validTypes[opts.QueryType] {
		return Options{}, fmt.Errorf("invalid options: unsupported queryType %q", opts.QueryType)
	}
	if raw.Protocol != "" {
		opts.Protocol = raw.Protocol
	}
	if opts.Protocol != "udp" && opts.Protocol != "tcp" {
		return Options{}, fmt.Errorf("invalid options: protocol must be udp or tcp")
	}
	if raw.Port != nil {
		opts.Port = *raw.Port
	}
	if raw.IPVersion != nil {
		opts.IPVersion = *raw.IPVersion
	}
	if opts.IPVersion != 4 && opts.IPVersion != 6 {
		return Options{}, fmt.Errorf("invalid options: ipVersion must be 4 or 6")
	}
	if raw.InProgressUpdates != nil {
		opts.InProgressUpdates = *raw.InProgressUpdates
	}

	return opts, nil
}
