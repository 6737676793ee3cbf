package httpengine

import (
	"fmt"
	"net"
	"strings"
)

// BuildPath normalises the request path to a leading "/" and folds a
// doubled "?query" into one (spec.md §4.E "Request").
func BuildPath(path, query string) string {
	path = strings.TrimPrefix(path, "?")
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return path
	}
	return path + "?" + query
}

// BuildURL assembles the request URL per spec.md §4.E, bracketing IPv6
// literal addresses.
func BuildURL(scheme, address string, port int, path string) string {
	host := address
	if strings.Contains(address, ":") {
		host = "[" + address + "]"
	}
	return fmt.Sprintf("%s://%s:%d%s", strings.ToLower(scheme), host, port, path)
}

// SNIName returns the TLS ServerName: the hostname if target isn't a
// literal IP, else the request's Host header value (spec.md §4.E
// "Connector").
func SNIName(target, hostHeader string) string {
	if net.ParseIP(target) != nil {
		return hostHeader
	}
	return target
}

// BuildHeaders merges user headers over the defaults, matching the
// teacher's header-default-then-override shape.
func BuildHeaders(opts Options, userAgent string) map[string]string {
	host := opts.Host
	if host == "" {
		host = opts.Target
	}

	headers := map[string]string{
		"Accept-Encoding": "gzip, deflate, br",
		"User-Agent":      fmt.Sprintf("globalping probe (%s)", userAgent),
		"Host":            host,
		"Connection":      "close",
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return headers
}
