// Package probeid establishes the stable identity the probe presents to the
// control plane on every connect attempt.
package probeid

import (
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is the probe build version. Overridden at build time via
// -ldflags "-X github.com/globalping/probe-agent/internal/probeid.Version=...".
var Version = "dev"

// Identity is the handshake payload sent on every connect attempt.
type Identity struct {
	UUID                   string `json:"uuid"`
	Version                string `json:"version"`
	NodeVersion            string `json:"nodeVersion"`
	TotalMemory            uint64 `json:"totalMemory"`
	TotalDiskSize          uint64 `json:"totalDiskSize"`
	AvailableDiskSpace     uint64 `json:"availableDiskSpace"`
	IsHardware             bool   `json:"isHardware"`
	HardwareDevice         string `json:"hardwareDevice,omitempty"`
	HardwareDeviceFirmware string `json:"hardwareDeviceFirmware,omitempty"`
	FakeIP                 string `json:"fakeIp,omitempty"`
}

// Load returns the stable probe UUID: PROBE_UUID from the environment if
// set, otherwise a freshly generated UUIDv4. Unlike the teacher's
// agent-state.json persistence, this probe does not write the UUID to
// disk - the environment variable is the only persistence contract
// (spec.md ties identity exclusively to PROBE_UUID).
func Load() string {
	if v := os.Getenv("PROBE_UUID"); v != "" {
		return v
	}
	return uuid.NewString()
}

// Collect builds the full handshake Identity, including host memory/disk
// figures sampled via gopsutil and hardware flags from the environment.
func Collect(fakeIP string) Identity {
	id := Identity{
		UUID:                   Load(),
		Version:                Version,
		NodeVersion:            runtime.Version(),
		IsHardware:             os.Getenv("HOST_HW") == "true",
		HardwareDevice:         os.Getenv("HOST_DEVICE"),
		HardwareDeviceFirmware: os.Getenv("HOST_FIRMWARE"),
		FakeIP:                 fakeIP,
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		id.TotalMemory = vm.Total
	}

	if du, err := disk.Usage("/"); err == nil && du != nil {
		id.TotalDiskSize = du.Total
		id.AvailableDiskSpace = du.Free
	}

	return id
}
