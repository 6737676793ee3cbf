package tcpping

import (
	"fmt"
	"time"
)

// Options is the validated tcp-ping measurement configuration
// (spec.md §4.D "TCP-ping").
type Options struct {
	Target            string
	Port              int
	Packets           int
	Interval          time.Duration
	Timeout           time.Duration
	IPVersion         int
	InProgressUpdates bool
}

type rawOptions struct {
	Target            string `json:"target"`
	Port              *int   `json:"port"`
	Packets           *int   `json:"packets"`
	IntervalMS        *int   `json:"intervalMs"`
	TimeoutMS         *int   `json:"timeoutMs"`
	IPVersion         *int   `json:"ipVersion"`
	InProgressUpdates *bool  `json:"inProgressUpdates"`
}

// Validate decodes and defaults a tcp-ping options payload.
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
		Port:      80,
		Packets:   3,
		Interval:  200 * time.Millisecond,
		Timeout:   3 * time.Second,
		IPVersion: 4,
	}
	if raw.Port != nil {
		opts.Port = *raw.Port
	}
	if raw.Packets != nil {
		opts.Packets = *raw.Packets
	}
	if opts.Packets < 1 || opts.Packets > 16 {
		return Options{}, fmt.Errorf("invalid options: packets must be between 1 and 16")
	}
	if raw.IntervalMS != nil {
		opts.Interval = time.Duration(*raw.IntervalMS) * time.Millisecond
	}
	if raw.TimeoutMS != nil {
		opts.Timeout = time.Duration(*raw.TimeoutMS) * time.Millisecond
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
