package mtr

import "fmt"

// Options is the validated mtr measurement configuration (spec.md §6).
type Options struct {
	Target            string
	Protocol          string // "icmp", "udp", or "tcp"; "" means mtr's default
	Packets           int
	IPVersion         int
	InProgressUpdates bool
}

type rawOptions struct {
	Target            string `json:"target"`
	Protocol          string `json:"protocol"`
	Packets           *int   `json:"packets"`
	IPVersion         *int   `json:"ipVersion"`
	InProgressUpdates *bool  `json:"inProgressUpdates"`
}

// Validate decodes and defaults an mtr options payload.
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
		Protocol:  raw.Protocol,
		Packets:   3,
		IPVersion: 4,
	}
	switch opts.Protocol {
	case "", "icmp", "udp", "tcp":
	default:
		return Options{}, fmt.Errorf("invalid options: unsupported protocol %q", opts.Protocol)
	}
	if raw.Packets != nil {
		opts.Packets = *raw.Packets
	}
	if opts.Packets < 1 || opts.Packets > 16 {
		return Options{}, fmt.Errorf("invalid options: packets must be between 1 and 16")
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
