package probeid

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesEnvWhenSet(t *testing.T) {
	t.Setenv("PROBE_UUID", "11111111-1111-1111-1111-111111111111")
	require.Equal(t, "11111111-1111-1111-1111-111111111111", Load())
}

func TestLoadGeneratesWhenAbsent(t *testing.T) {
	os.Unsetenv("PROBE_UUID")
	a := Load()
	b := Load()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "each call without PROBE_UUID should mint a fresh id")
}

func TestCollectPopulatesHardwareFlags(t *testing.T) {
	t.Setenv("HOST_HW", "true")
	t.Setenv("HOST_DEVICE", "fiber-box")
	t.Setenv("HOST_FIRMWARE", "1.2.3")

	id := Collect("")
	assert.True(t, id.IsHardware)
	assert.Equal(t, "fiber-box", id.HardwareDevice)
	assert.Equal(t, "1.2.3", id.HardwareDeviceFirmware)
	assert.NotEmpty(t, id.Version)
}
