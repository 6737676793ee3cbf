package httpengine

import (
	"bufio"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/http2"

	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/privateip"
	"github.com/globalping/probe-agent/internal/progressbuf"
)

// probeUserAgentURL is the project URL advertised in the User-Agent
// header, matching the release feed this probe polls (internal/lifecycle).
const probeUserAgentURL = "https://github.com/jsdelivr/globalping-probe"

// Executor implements measure.Executor for the http measurement kind -
// the HTTP/1.1 + HTTP/2 test engine (spec.md §4.E).
type Executor struct{}

func (Executor) Kind() measure.Kind { return measure.KindHTTP }

func (Executor) Run(ctx context.Context, sink measure.Sink, jobID string, rawOptions json.RawMessage) {
	opts, err := Validate(func(v any) error { return json.Unmarshal(rawOptions, v) })
	if err != nil {
		sink.Result(failedResult(err.Error()))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(RequestTimeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	address, err := Resolve(reqCtx, net.DefaultResolver, opts.Target, opts.IPVersion)
	dnsElapsed := time.Since(start)
	if err != nil {
		sink.Result(failedResult(timeoutOr(reqCtx, err, measure.GenericFailureMessage)))
		return
	}
	if privateip.IsPrivateLiteral(address) {
		sink.Result(failedResult(measure.PrivateIPMessage))
		return
	}

	conn, err := DialAndHandshake(reqCtx, address, dnsElapsed, opts)
	if err != nil {
		msg := measure.GenericFailureMessage
		switch {
		case errors.Is(err, ErrHTTP2Unsupported):
			msg = ErrHTTP2Unsupported.Error()
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			msg = "Request timeout."
		}
		sink.Result(failedResult(msg))
		return
	}
	defer conn.Raw.Close()

	req, err := buildRequest(reqCtx, opts, address)
	if err != nil {
		sink.Result(failedResult(measure.GenericFailureMessage))
		return
	}

	rt := transportFor(conn)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		msg := measure.GenericFailureMessage
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			msg = "Request timeout."
		}
		sink.Result(failedResult(msg))
		return
	}
	defer resp.Body.Close()
	firstByte := time.Since(start)

	headers, rawHeaders := flattenHeaders(resp.Header)
	headerBlock := fmt.Sprintf("HTTP/%d.%d %d\n%s", resp.ProtoMajor, resp.ProtoMinor, resp.StatusCode, rawHeaders)

	var progress *progressbuf.Buffer
	if opts.InProgressUpdates {
		progress = progressbuf.New(progressbuf.ModeOverwrite, progressbuf.DefaultInterval, func(f progressbuf.Frame) {
			sink.Progress(map[string]any{
				"rawHeaders": rawHeaders,
				"rawBody":    f.Fields["rawBody"],
				"rawOutput":  f.Fields["rawOutput"],
			}, f.Overwrite)
		})
	}

	body, truncated, readErr := readBody(resp, headerBlock, req.Method, progress)
	downloadDone := time.Now()

	if progress != nil {
		progress.Abort()
	}

	if readErr != nil {
		msg := measure.GenericFailureMessage
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			msg = "Request timeout."
		}
		sink.Result(failedResult(msg))
		return
	}

	rawOutput := headerBlock
	if req.Method != http.MethodHead && body != "" {
		rawOutput = headerBlock + "\n\n" + body
	}

	var certInfo any
	if conn.HasCert {
		certInfo = certInfoToAny(conn.Cert)
	}

	sink.Result(map[string]any{
		"status":          measure.StatusFinished,
		"resolvedAddress": conn.Address,
		"headers":         headers,
		"rawHeaders":      rawHeaders,
		"rawBody":         body,
		"rawOutput":       rawOutput,
		"truncated":       truncated,
		"statusCode":      resp.StatusCode,
		"statusCodeName":  http.StatusText(resp.StatusCode),
		"timings": map[string]any{
			"dns":       conn.Timings.DNS.Milliseconds(),
			"tcp":       conn.Timings.TCP.Milliseconds(),
			"tls":       conn.Timings.TLS.Milliseconds(),
			"firstByte": firstByte.Milliseconds(),
			"download":  downloadDone.Sub(start).Milliseconds() - firstByte.Milliseconds(),
			"total":     downloadDone.Sub(start).Milliseconds(),
		},
		"tls": certInfo,
	})

	_ = jobID
}

// timeoutOr returns "Request timeout." if ctx has expired, otherwise
// fallback.
func timeoutOr(ctx context.Context, err error, fallback string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "Request timeout."
	}
	return fallback
}

// failedResult builds the uniform failed-path JSON shape: headers,
// rawHeaders, rawBody, statusCode reset to empty/null, rawOutput carrying
// the error message (spec.md §4.E invariants).
func failedResult(message string) map[string]any {
	return map[string]any{
		"status":         measure.StatusFailed,
		"headers":        map[string]string{},
		"rawHeaders":     "",
		"rawBody":        "",
		"rawOutput":      message,
		"statusCode":     nil,
		"statusCodeName": nil,
		"timings":        nil,
		"tls":            nil,
	}
}

func buildRequest(ctx context.Context, opts Options, address string) (*http.Request, error) {
	scheme := "https"
	if opts.Protocol == "HTTP" {
		scheme = "http"
	}
	path := BuildPath(opts.Path, opts.Query)
	url := BuildURL(scheme, address, opts.Port, path)

	req, err := http.NewRequestWithContext(ctx, opts.Method, url, nil)
	if err != nil {
		return nil, err
	}

	headers := BuildHeaders(opts, probeUserAgentURL)
	for k, v := range headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

// transportFor returns a one-shot http.RoundTripper bound to the
// already-established connection: an http2.Transport when ALPN
// negotiated h2, otherwise a plain http.Transport. Grounded on
// bassosimone-nop's HTTPConnFunc, which picks the transport by ALPN and
// dials through a single-use dialer wrapping the pre-established conn -
// reimplemented locally here rather than importing bassosimone/sud for
// one trivial helper.
func transportFor(conn *Conn) http.RoundTripper {
	dialer := &singleUseDialer{conn: conn.Raw}
	if conn.ALPN == "h2" {
		return &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		}
	}
	return &http.Transport{
		DialContext:    dialer.DialContext,
		DialTLSContext: dialer.DialContext,
	}
}

// singleUseDialer hands out the one already-connected net.Conn exactly
// once, so net/http and http2's transports can round-trip a request over
// a connection this package already dialed and TLS-handshaked itself.
type singleUseDialer struct {
	mu   sync.Mutex
	conn net.Conn
	used bool
}

func (d *singleUseDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.used {
		return nil, errors.New("httpengine: connection already consumed")
	}
	d.used = true
	return d.conn, nil
}

// flattenHeaders builds the lowercased headers map and the raw "Key:
// Value\n" block spec.md §4.E "Response handling" requires. Header keys
// are sorted for deterministic output; net/http's Header does not
// preserve wire order, so byte-exact reproduction of arrival order is not
// attempted.
func flattenHeaders(h http.Header) (map[string]string, string) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lower := make(map[string]string, len(h))
	var b strings.Builder
	for _, k := range keys {
		v := strings.Join(h[k], ", ")
		lower[strings.ToLower(k)] = v
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	return lower, b.String()
}

// readBody streams and decompresses the response body, capping it at
// DefaultDownloadLimit and pushing throttled progress frames. Returns the
// final body text and whether it was truncated.
func readBody(resp *http.Response, headerBlock, method string, progress *progressbuf.Buffer) (string, bool, error) {
	if method == http.MethodHead {
		return "", false, nil
	}

	reader, err := decompressingReader(resp)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if rc, ok := reader.(io.Closer); ok {
			_ = rc.Close()
		}
	}()

	var body strings.Builder
	chunk := make([]byte, 4096)
	truncated := false

	for body.Len() < DefaultDownloadLimit {
		n, rerr := reader.Read(chunk)
		if n > 0 {
			remaining := DefaultDownloadLimit - body.Len()
			take := n
			if take > remaining {
				take = remaining
				truncated = true
			}
			body.Write(chunk[:take])
			if progress != nil {
				progress.PushProgress(map[string]string{
					"rawBody":   body.String(),
					"rawOutput": headerBlock + "\n\n" + body.String(),
				})
			}
			if truncated {
				break
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return "", false, rerr
		}
	}

	// Drain-check: if more data remains beyond the cap, mark truncated.
	if !truncated && body.Len() == DefaultDownloadLimit {
		var probe [1]byte
		if n, _ := reader.Read(probe[:]); n > 0 {
			truncated = true
		}
	}

	return body.String(), truncated, nil
}

// decompressingReader wraps resp.Body with a streaming decompressor
// matching its Content-Encoding, or returns the body unchanged for
// encodings with no available decoder (spec.md §4.E "Response handling").
func decompressingReader(resp *http.Response) (io.Reader, error) {
	enc := strings.ToLower(resp.Header.Get("Content-Encoding"))
	switch enc {
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return zlib.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return bufio.NewReader(resp.Body), nil
	}
}

func certInfoToAny(c CertInfo) map[string]any {
	return map[string]any{
		"issuer": map[string]any{
			"C":  c.IssuerC,
			"O":  c.IssuerO,
			"CN": c.IssuerCN,
		},
		"subject": map[string]any{
			"CN":             c.SubjectCN,
			"subjectaltname": c.SubjectAltName,
		},
		"validFrom":      c.ValidFrom,
		"validTo":        c.ValidTo,
		"keyType":        c.KeyType,
		"keyBits":        c.KeyBits,
		"serialNumber":   c.Serial,
		"fingerprint256": c.Fingerprint256,
		"publicKey":      c.PublicKeyHex,
	}
}
