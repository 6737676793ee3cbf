package traceroute

import "fmt"

// Options is the validated traceroute measurement configuration
// (spec.md §6).
type Options struct {
	Target            string
	Protocol          string // "icmp", "udp", or "tcp"
	Port              int
	IPVersion         int
	InProgressUpdates bool
}

type rawOptions struct {
	Target            string `json:"target"`
	Protocol          string `json:"protocol"`
	Port              *int   `json:"port"`
	IPVersion         *int   `json:"ipVersion"`
	InProgressUpdates *bool  `json:"inProgressUpdates"`
}

// Validate decodes and defaults a traceroute options payload.
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
		Protocol:  "icmp",
		Port:      80,
		IPVersion: 4,
	}
	if raw.Protocol != "" {
		opts.Protocol = raw.Protocol
	}
	switch opts.Protocol {
	case "icmp", "udp", "tcp":
	default:
		return Options{}, fmt.Errorf("invalid options: unsupported protocol %q", opts.Protocol)
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
