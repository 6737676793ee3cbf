// Package httpengine implements the HTTP/HTTPS/HTTP2 measurement
// executor: a small client built around net/http.Transport with a custom
// dialer so DNS resolution, TCP/TLS phase timings, and certificate
// details can all be captured and attributed to one measurement
// (spec.md §4.E).
package httpengine

import "fmt"

// Options is the validated http measurement configuration (spec.md §6).
type Options struct {
	Target            string
	Protocol          string // "HTTP", "HTTPS", or "HTTP2"
	Port              int
	Method            string // GET, HEAD, OPTIONS
	Path              string
	Query             string
	Headers           map[string]string
	Host              string
	Resolver          string
	IPVersion         int
	InProgressUpdates bool
}

type rawOptions struct {
	Target    string            `json:"target"`
	Protocol  string            `json:"protocol"`
	Port      *int              `json:"port"`
	Request   *rawRequest       `json:"request"`
	Resolver  string            `json:"resolver"`
	IPVersion *int              `json:"ipVersion"`
	InProgressUpdates *bool     `json:"inProgressUpdates"`
}

type rawRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query"`
	Headers map[string]string `json:"headers"`
	Host    string            `json:"host"`
}

// DefaultDownloadLimit is DOWNLOAD_LIMIT from spec.md §4.E.
const DefaultDownloadLimit = 10_000

// RequestTimeout bounds the entire attempt (spec.md §4.E).
const RequestTimeout = 10_000 // milliseconds

// Validate decodes and defaults an http options payload.
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
		Protocol:  "HTTPS",
		Port:      443,
		Method:    "HEAD",
		Path:      "/",
		Resolver:  raw.Resolver,
		IPVersion: 4,
	}
	if raw.Protocol != "" {
		opts.Protocol = raw.Protocol
	}
	switch opts.Protocol {
	case "HTTP", "HTTPS", "HTTP2":
	default:
		return Options{}, fmt.Errorf("invalid options: unsupported protocol %q", opts.Protocol)
	}
	if opts.Protocol == "HTTP" {
		opts.Port = 80
	}
	if raw.Port != nil {
		opts.Port = *raw.Port
	}
	if raw.Request != nil {
		if raw.Request.Method != "" {
			opts.Method = raw.Request.Method
		}
		if raw.Request.Path != "" {
			opts.Path = raw.Request.Path
		}
		opts.Query = raw.Request.Query
		opts.Headers = raw.Request.Headers
		opts.Host = raw.Request.Host
	}
	switch opts.Method {
	case "GET", "HEAD", "OPTIONS":
	default:
		return Options{}, fmt.Errorf("invalid options: unsupported method %q", opts.Method)
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
