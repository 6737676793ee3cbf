package tcpping

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ips []net.IP
	err error
}

func (f fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return f.ips, f.err
}

func TestResolveReturnsLiteralTargetsDirectly(t *testing.T) {
	addr, err := Resolve(context.Background(), fakeResolver{}, Options{Target: "93.184.216.34"})
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", addr)
}

func TestResolveUsesResolverForHostnames(t *testing.T) {
	r := fakeResolver{ips: []net.IP{net.ParseIP("1.2.3.4")}}
	addr, err := Resolve(context.Background(), r, Options{Target: "example.com", IPVersion: 4})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", addr)
}

func TestResolvePropagatesLookupError(t *testing.T) {
	r := fakeResolver{err: errors.New("no such host")}
	_, err := Resolve(context.Background(), r, Options{Target: "nope.invalid"})
	assert.Error(t, err)
}

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

type fakeDialer struct {
	fail    bool
	delay   time.Duration
}

func (f fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return fakeConn{}, nil
}

func TestRunProducesProbesInSequenceOrder(t *testing.T) {
	opts := Options{Target: "x", Port: 80, Packets: 3, Interval: time.Millisecond, Timeout: time.Second}
	probes, stats := Run(context.Background(), fakeDialer{}, "1.2.3.4", opts, nil)

	require.Len(t, probes, 3)
	for i, p := range probes {
		assert.Equal(t, i, p.Seq)
		assert.False(t, p.Failed)
	}
	assert.Equal(t, 3, stats.Received)
	assert.Equal(t, 0, stats.Dropped)
}

func TestRunRecordsFailedProbes(t *testing.T) {
	opts := Options{Target: "x", Port: 80, Packets: 2, Interval: time.Millisecond, Timeout: time.Second}
	probes, stats := Run(context.Background(), fakeDialer{fail: true}, "1.2.3.4", opts, nil)

	require.Len(t, probes, 2)
	assert.True(t, probes[0].Failed)
	assert.Equal(t, 0, stats.Received)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 100.0, stats.LossPercent)
}

func TestRunInvokesOnProbeCallback(t *testing.T) {
	opts := Options{Target: "x", Port: 80, Packets: 2, Interval: time.Millisecond, Timeout: time.Second}
	var seen []int
	Run(context.Background(), fakeDialer{}, "1.2.3.4", opts, func(p Probe) {
		seen = append(seen, p.Seq)
	})
	assert.Equal(t, []int{0, 1}, seen)
}
