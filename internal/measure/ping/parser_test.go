package ping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePingOutput = `PING example.com (93.184.216.34) 56(84) bytes of data.
64 bytes from 93.184.216.34: icmp_seq=1 ttl=56 time=11.2 ms
64 bytes from 93.184.216.34: icmp_seq=2 ttl=56 time=10.9 ms
64 bytes from 93.184.216.34: icmp_seq=3 ttl=56 time=11.5 ms

--- example.com ping statistics ---
3 packets transmitted, 3 received, 0% packet loss, time 2003ms
rtt min/avg/max/mdev = 10.900/11.200/11.500/0.245 ms
`

func TestParseSuccessfulRun(t *testing.T) {
	res := Parse(samplePingOutput)
	require.False(t, res.Failed)
	assert.Equal(t, "93.184.216.34", res.ResolvedAddress)
	require.Len(t, res.Packets, 3)
	assert.Equal(t, Packet{TTL: 56, RTT: 11.2}, res.Packets[0])
	assert.Equal(t, 3, res.Stats.Transmitted)
	assert.Equal(t, 3, res.Stats.Received)
	assert.Equal(t, 0.0, res.Stats.LossPercent)
	assert.Equal(t, 11.2, res.Stats.Avg)
}

func TestParseMissingHeaderFails(t *testing.T) {
	res := Parse("ping: example.invalid: Name or service not known\n")
	assert.True(t, res.Failed)
	assert.Empty(t, res.ResolvedAddress)
}

func TestParseLossyRun(t *testing.T) {
	raw := `PING host (10.0.0.1) 56(84) bytes of data.
64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=1.0 ms

--- host ping statistics ---
3 packets transmitted, 1 received, 66.6% packet loss, time 2003ms
rtt min/avg/max/mdev = 1.000/1.000/1.000/0.000 ms
`
	res := Parse(raw)
	require.False(t, res.Failed)
	assert.Equal(t, 66.6, res.Stats.LossPercent)
	assert.Equal(t, 1, res.Stats.Received)
}
