package privateip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivate(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"172.16.5.5", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"100.64.0.5", true},
		{"8.8.8.8", false},
		{"142.250.75.14", false},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"2001:4860:4860::8888", false},
		{"::ffff:10.0.0.1", true},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.addr)
		assert.Equalf(t, c.want, IsPrivate(ip), "addr=%s", c.addr)
	}
}

func TestIsPrivateLiteralStripsPort(t *testing.T) {
	assert.True(t, IsPrivateLiteral("10.0.0.1:53"))
	assert.True(t, IsPrivateLiteral("[fc00::1]:53"))
	assert.False(t, IsPrivateLiteral("8.8.8.8:53"))
	assert.False(t, IsPrivateLiteral("dns.google"))
}

func TestMaskDNSServersListPreservesOrder(t *testing.T) {
	in := []string{"8.8.8.8", "10.0.0.1", "1.1.1.1"}
	out := MaskDNSServersList(in)
	assert.Equal(t, []string{"8.8.8.8", "private", "1.1.1.1"}, out)
}
