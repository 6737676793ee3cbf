// Command probe runs the measurement probe agent: it connects to the
// control plane, advertises its identity and health, and executes
// measurement requests until terminated. Bootstrap (flags, env, signal
// handling) is grounded on cmd/agent/main.go and cmd/worker/main.go,
// generalized from their flag.String/flag.Duration + signal.Notify(
// syscall.SIGINT, syscall.SIGTERM) shape into the probe's own flag set.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/globalping/probe-agent/internal/altip"
	"github.com/globalping/probe-agent/internal/channel"
	"github.com/globalping/probe-agent/internal/config"
	"github.com/globalping/probe-agent/internal/dispatch"
	"github.com/globalping/probe-agent/internal/lifecycle"
	"github.com/globalping/probe-agent/internal/logsink"
	"github.com/globalping/probe-agent/internal/measure"
	"github.com/globalping/probe-agent/internal/measure/dns"
	"github.com/globalping/probe-agent/internal/measure/httpengine"
	"github.com/globalping/probe-agent/internal/measure/mtr"
	"github.com/globalping/probe-agent/internal/measure/ping"
	"github.com/globalping/probe-agent/internal/measure/tcpping"
	"github.com/globalping/probe-agent/internal/measure/traceroute"
	"github.com/globalping/probe-agent/internal/metricsreport"
	"github.com/globalping/probe-agent/internal/probeid"
	"github.com/globalping/probe-agent/internal/probelog"
	"github.com/globalping/probe-agent/internal/status"
	"github.com/globalping/probe-agent/internal/telemetry"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config overlay (overrides GP_CONFIG_FILE)")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("GP_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	measure.SetCommandTimeout(cfg.Commands.Timeout)
	mtr.SetPingInterval(cfg.Commands.MTR.Interval)

	configWatcher, err := config.NewWatcher(os.Getenv("GP_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config watcher: %v\n", err)
		os.Exit(1)
	}

	bootCtx := context.Background()
	telMetrics, err := telemetry.New(bootCtx, cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetGlobal(telMetrics)
	defer telMetrics.Shutdown(bootCtx)

	probeUUID := probeid.Load()
	baseLog := probelog.New(os.Stdout, probeUUID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// sess and statusMgr reference each other through closures/setters
	// (statusMgr.onChange announces over sess; sess.currentStatus reads
	// statusMgr), so both are declared before either is fully wired.
	var sess *channel.Session
	statusMgr := status.New(probelog.Component(baseLog, "status"), cfg.Status.NumberOfPackets, func(s status.Status) {
		if sess != nil {
			sess.AnnounceStatus(string(s))
		}
	})

	sess = channel.New(
		probelog.Component(baseLog, "channel"),
		channel.DefaultConfig(cfg.API.Host),
		func() probeid.Identity { return probeid.Collect("") },
		func() string { return string(statusMgr.Current()) },
	)

	dispatcher := dispatch.New(probelog.Component(baseLog, "dispatch"), statusMgr, sess, resolveExecutor)
	sess.SetDispatcher(dispatcher)

	logTransport := logsink.New(probelog.Component(baseLog, "logsink"), sess)
	log := probelog.NewWithSink(os.Stdout, probeUUID, logTransport)

	altipClient := altip.New(probelog.Component(log, "altip"), cfg.API.HTTPHost, sess, primaryOutboundIP)
	sess.OnAltIPsToken(func(token string) {
		log.Info("alt-ips attestation token received", "token", token)
	})

	metrics := metricsreport.New(cfg.Stats.Interval, sess, dispatcher)

	lc := lifecycle.New(probelog.Component(log, "lifecycle"), lifecycle.Config{
		ReleaseURL:         cfg.Update.ReleaseURL,
		UpdateInterval:     cfg.Update.Interval,
		UpdateMaxDeviation: cfg.Update.MaxDeviation,
		UptimeInterval:     cfg.Uptime.Interval,
		UptimeMaxDeviation: cfg.Uptime.MaxDeviation,
		UptimeMaxUptime:    cfg.Uptime.MaxUptime,
		Development:        cfg.IsDevelopment(),
	}, probeid.Version, func() {
		select {
		case sigChan <- syscall.SIGTERM:
		default:
		}
	})

	dispatcher.StartSweep(ctx)
	statusMgr.Start(ctx)
	logTransport.Start(ctx)
	go sess.Run(ctx)
	go altipClient.Run(ctx)
	go metrics.Run(ctx)
	go configWatcher.Run(ctx, func(reloaded config.Config) {
		measure.SetCommandTimeout(reloaded.Commands.Timeout)
		mtr.SetPingInterval(reloaded.Commands.MTR.Interval)
		log.Info("config reloaded", "commandTimeout", reloaded.Commands.Timeout, "mtrInterval", reloaded.Commands.MTR.Interval)
	})
	lc.Run(ctx)

	<-sigChan
	log.Info("signal received, starting graceful shutdown")
	statusMgr.Stop(status.SigTerm)
	dispatcher.Drain()
	logTransport.Stop()
	cancel()
	os.Exit(0)
}

// primaryOutboundIP discovers the local address the kernel would pick to
// reach the public internet, without sending any traffic: a "connected"
// UDP socket only resolves a route, it never puts a packet on the wire.
func primaryOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// resolveExecutor maps a decoded measurement kind (plus a peek at the
// raw options for ping's protocol:"tcp" variant) to the concrete
// executor, implementing spec.md §4.D's routing rule.
func resolveExecutor(kind measure.Kind, raw json.RawMessage) measure.Executor {
	switch kind {
	case measure.KindPing:
		var probe struct {
			Protocol string `json:"protocol"`
		}
		_ = json.Unmarshal(raw, &probe)
		if probe.Protocol == "tcp" {
			return tcpping.Executor{}
		}
		return ping.Executor{}
	case measure.KindDNS:
		return dns.Executor{}
	case measure.KindTraceroute:
		return traceroute.Executor{}
	case measure.KindMTR:
		return mtr.Executor{}
	case measure.KindHTTP:
		return httpengine.Executor{}
	default:
		return nil
	}
}
