package httpengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrHTTP2Unsupported is returned when the server did not negotiate h2
// over ALPN on an HTTP2 measurement (spec.md §4.E "Connector").
var ErrHTTP2Unsupported = errors.New("HTTP/2 not supported by the server.")

// Timings captures the five measurement phases spec.md §4.E requires:
// dns, tcp, tls, firstByte, download. DNS, TCP and TLS each hold that
// phase's own duration; DialAndHandshake fills only those three, and the
// executor computes firstByte, download and total itself.
type Timings struct {
	DNS       time.Duration
	TCP       time.Duration
	TLS       time.Duration
	FirstByte time.Duration
	Download  time.Duration
	Total     time.Duration
}

// Resolver resolves a hostname to an address literal honouring an IP
// version preference, satisfied by net.DefaultResolver in production.
// Generalised from the teacher's callback-coupled DNS hook into the
// single resolve(hostname, ipVersion) function spec.md §9 recommends.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Resolve returns the first address literal for target honouring
// ipVersion (4 or 6), or target itself unchanged if it is already a
// literal.
func Resolve(ctx context.Context, r Resolver, target string, ipVersion int) (string, error) {
	if ip := net.ParseIP(target); ip != nil {
		return target, nil
	}
	network := "ip4"
	if ipVersion == 6 {
		network = "ip6"
	}
	ips, err := r.LookupIP(ctx, network, target)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("httpengine: no %s address found for %s", network, target)
	}
	return ips[0].String(), nil
}

// Conn is the outcome of establishing the transport-level connection: a
// live net.Conn (already TLS-wrapped for HTTPS/HTTP2), the resolved
// address, phase timings so far, the negotiated ALPN protocol (HTTPS/
// HTTP2 only), and certificate details when TLS was used.
type Conn struct {
	Raw      net.Conn
	Address  string
	ALPN     string
	Cert     CertInfo
	HasCert  bool
	Timings  Timings
}

// Connect performs DNS resolution, TCP dial, and (for HTTPS/HTTP2) the
// TLS handshake, recording per-phase timings as it goes - spec.md §4.E
// "Connector". rejectUnauthorized is always false per spec.md (the probe
// reports on whatever certificate the server presents rather than failing
// the measurement).
func Connect(ctx context.Context, resolver Resolver, opts Options) (*Conn, error) {
	start := time.Now()

	address, err := Resolve(ctx, resolver, opts.Target, opts.IPVersion)
	if err != nil {
		return nil, fmt.Errorf("dns: %w", err)
	}
	dnsElapsed := time.Since(start)

	return DialAndHandshake(ctx, address, dnsElapsed, opts)
}

// DialAndHandshake opens the TCP connection to an already-resolved
// address and, for HTTPS/HTTP2, layers TLS on top, recording TCP/TLS
// timings. dnsElapsed is recorded verbatim as the DNS phase so callers
// that resolve separately (to short-circuit on a private address before
// dialing) still get accurate Timings.
func DialAndHandshake(ctx context.Context, address string, dnsElapsed time.Duration, opts Options) (*Conn, error) {
	tcpStart := time.Now()

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("tcp connect: %w", err)
	}
	tcpDone := time.Now()

	conn := &Conn{
		Address: address,
		Timings: Timings{
			DNS: dnsElapsed,
			TCP: tcpDone.Sub(tcpStart),
		},
	}

	if opts.Protocol == "HTTP" {
		conn.Raw = raw
		return conn, nil
	}

	hostHeader := opts.Host
	if hostHeader == "" {
		hostHeader = opts.Target
	}
	alpn := []string{"http/1.1"}
	if opts.Protocol == "HTTP2" {
		alpn = []string{"h2"}
	}

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         SNIName(opts.Target, hostHeader),
		InsecureSkipVerify: true,
		NextProtos:         alpn,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		// A server that does not offer h2 may abort the handshake with a
		// no_application_protocol alert instead of negotiating another
		// protocol.
		if opts.Protocol == "HTTP2" && strings.Contains(err.Error(), "no application protocol") {
			return nil, ErrHTTP2Unsupported
		}
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	tlsDone := time.Now()
	conn.Timings.TLS = tlsDone.Sub(tcpDone)

	state := tlsConn.ConnectionState()
	conn.ALPN = state.NegotiatedProtocol
	conn.Cert, conn.HasCert = ExtractCertInfo(state)

	if opts.Protocol == "HTTP2" && conn.ALPN != "h2" {
		_ = tlsConn.Close()
		return nil, ErrHTTP2Unsupported
	}

	conn.Raw = tlsConn
	return conn, nil
}
