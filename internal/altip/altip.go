// Package altip implements the alternate-IP discovery/attestation
// side-channel (spec.md §4.G): enumerate non-internal network interfaces,
// attest each to the control plane's HTTP side-channel, and report the
// accepted/rejected/failed sets over the channel. Grounded on
// internal/worker/retry_client.go's RetryHTTPClient (fixed retry count,
// fixed timeout), reused here with the retry count fixed to 1 and the
// retryable-status set fixed to {504} per spec.md §4.G.
package altip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Interval is the fixed re-attestation cadence (spec.md §4.G).
const Interval = 10 * time.Minute

// AttestTimeout and MaxRetries bound a single attestation POST.
const (
	AttestTimeout = 15 * time.Second
	MaxRetries    = 1
)

// AckResult is the control plane's response to a probe:alt-ips emission:
// which of the attested IPs it accepted, and which it rejected with a
// reason (spec.md §4.G).
type AckResult struct {
	AddedAltIPs          []string
	RejectedIPsToReasons map[string]string
}

// Sender emits probe:alt-ips and returns the server's ack.
type Sender interface {
	EmitAltIPs(ctx context.Context, pairs [][2]string) (AckResult, error)
}

// Sets is the combined view spec.md §4.G requires: accepted IPs
// (including the primary), server/locally rejected IPs, and transiently
// failed IPs.
type Sets struct {
	CurrentIPs         []string
	CurrentRejectedIPs map[string]string
	CurrentFailedIPs   map[string]string
}

// Client owns one probe's alt-IP attestation loop. Not a global
// singleton: constructed once in cmd/probe.
type Client struct {
	log        *slog.Logger
	httpHost   string
	httpClient *http.Client
	sender     Sender
	primaryIP  func() string

	mu   sync.Mutex
	last Sets
}

// New constructs a Client. primaryIP returns the probe's current primary
// address (looked up lazily so it reflects reconnects).
func New(log *slog.Logger, httpHost string, sender Sender, primaryIP func() string) *Client {
	return &Client{
		log:        log,
		httpHost:   strings.TrimRight(httpHost, "/"),
		httpClient: &http.Client{Timeout: AttestTimeout},
		sender:     sender,
		primaryIP:  primaryIP,
	}
}

// Run ticks every Interval until ctx is cancelled, running one Tick per
// period.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick performs one full attestation round: enumerate candidate
// interfaces, attest each, report the accepted set to the control plane,
// and fold its ack into the combined Sets (spec.md §4.G).
func (c *Client) Tick(ctx context.Context) {
	candidates := enumerateCandidates()

	var mu sync.Mutex
	accepted := make([][2]string, 0, len(candidates))
	rejected := make(map[string]string)
	failed := make(map[string]string)

	var wg sync.WaitGroup
	for _, addr := range candidates {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			ip, token, err := c.attest(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, [2]string{ip, token})
			case isTransient(err):
				failed[addr] = err.Error()
			default:
				rejected[addr] = err.Error()
			}
		}(addr)
	}
	wg.Wait()

	ack, err := c.sender.EmitAltIPs(ctx, accepted)
	if err != nil {
		c.log.Warn("alt-ip report failed", "error", err)
		return
	}
	for ip, reason := range ack.RejectedIPsToReasons {
		rejected[ip] = reason
	}

	ips := append([]string{c.primaryIP()}, ack.AddedAltIPs...)
	sort.Strings(ips)
	ips = dedupe(ips)

	next := Sets{CurrentIPs: ips, CurrentRejectedIPs: rejected, CurrentFailedIPs: failed}

	c.mu.Lock()
	changed := !setsEqual(c.last, next)
	c.last = next
	c.mu.Unlock()

	if changed {
		c.log.Info("alt-ip sets changed",
			"current_ips", ips,
			"rejected", len(rejected),
			"failed", len(failed),
		)
	}
}

// Sets returns the most recently computed combined view.
func (c *Client) Sets() Sets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// attest POSTs /alternative-ip bound to localAddr, retrying once on a 504,
// and returns the server-confirmed IP and attestation token.
func (c *Client) attest(ctx context.Context, localAddr string) (ip, token string, err error) {
	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: net.ParseIP(localAddr)},
		Timeout:   AttestTimeout,
	}
	client := &http.Client{
		Timeout: AttestTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}

	url := c.httpHost + "/alternative-ip"
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if rerr != nil {
			return "", "", rerr
		}
		resp, rerr := client.Do(req)
		if rerr != nil {
			lastErr = rerr
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusGatewayTimeout && attempt < MaxRetries {
			lastErr = fmt.Errorf("alt-ip: 504 from %s", url)
			continue
		}
		if resp.StatusCode >= 300 {
			return "", "", fmt.Errorf("alt-ip: unexpected status %d from %s", resp.StatusCode, url)
		}

		var payload struct {
			IP    string `json:"ip"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", "", fmt.Errorf("alt-ip: decode response: %w", err)
		}
		return payload.IP, payload.Token, nil
	}
	return "", "", lastErr
}

// isTransient classifies a local attestation error as transient (network
// timeout, server 5xx after retry) versus a hard local rejection (e.g.
// the interface cannot route at all). This split is not fully specified
// upstream; see DESIGN.md for the Open Question decision.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if ne, ok := err.(net.Error); ok {
		netErr = ne
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "504") || strings.Contains(err.Error(), "unexpected status 5")
}

// enumerateCandidates returns deduplicated, non-internal, non-link-local
// address literals across all network interfaces (spec.md §4.G).
func enumerateCandidates() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			s := ip.String()
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	out := in[:0]
	var prev string
	first := true
	for _, v := range in {
		if v == "" {
			continue
		}
		if !first && v == prev {
			continue
		}
		out = append(out, v)
		prev = v
		first = false
	}
	return out
}

func setsEqual(a, b Sets) bool {
	if !stringSliceEqual(a.CurrentIPs, b.CurrentIPs) {
		return false
	}
	if !stringMapEqual(a.CurrentRejectedIPs, b.CurrentRejectedIPs) {
		return false
	}
	return stringMapEqual(a.CurrentFailedIPs, b.CurrentFailedIPs)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
