package ping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsDefaultsToIPv4(t *testing.T) {
	args := BuildArgs(Options{Target: "example.com", Packets: 3, IPVersion: 4})
	assert.Equal(t, []string{"-4", "-c", "3", "-i", "0.2", "-w", "15", "example.com"}, args)
}

func TestBuildArgsIPv6(t *testing.T) {
	args := BuildArgs(Options{Target: "example.com", Packets: 6, IPVersion: 6})
	assert.Equal(t, []string{"-6", "-c", "6", "-i", "0.2", "-w", "15", "example.com"}, args)
}

func TestBuildArgsIsDeterministic(t *testing.T) {
	opts := Options{Target: "1.1.1.1", Packets: 10, IPVersion: 4}
	assert.Equal(t, BuildArgs(opts), BuildArgs(opts))
}
