package mtr

import (
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultPingInterval is commands.mtr.interval's built-in default (spec.md
// §6). pingIntervalNanos holds the live value, updatable via
// SetPingInterval without restarting the probe (internal/config.Watcher).
const DefaultPingInterval = 500 * time.Millisecond

var pingIntervalNanos atomic.Int64

func init() {
	pingIntervalNanos.Store(int64(DefaultPingInterval))
}

// SetPingInterval updates the --interval argument mtr is invoked with.
// Zero or negative values are ignored.
func SetPingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	pingIntervalNanos.Store(int64(d))
}

// BuildArgs produces the mtr(8) argv for opts (spec.md §4.D "mtr").
func BuildArgs(opts Options) []string {
	args := []string{}
	if opts.IPVersion == 6 {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}
	interval := time.Duration(pingIntervalNanos.Load()).Seconds()
	args = append(args,
		"-o", "LDRAVM",
		"--aslookup",
		"--show-ips",
		"--interval", strconv.FormatFloat(interval, 'f', -1, 64),
		"--gracetime", "3",
		"--max-ttl", "20",
		"--timeout", "15",
	)
	if opts.Protocol != "" {
		args = append(args, "--"+opts.Protocol)
	}
	args = append(args, "-c", strconv.Itoa(opts.Packets), "--raw", opts.Target)
	return args
}
