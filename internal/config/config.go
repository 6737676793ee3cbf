// Package config merges the probe's built-in defaults with an optional YAML
// overlay file and environment-variable overrides, matching spec.md §6.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// API holds the control-plane endpoints.
type API struct {
	Host     string `yaml:"host"`
	HTTPHost string `yaml:"httpHost"`
}

// Update controls the self-update poll loop (§4.I).
type Update struct {
	ReleaseURL   string        `yaml:"releaseUrl"`
	Interval     time.Duration `yaml:"interval"`
	MaxDeviation time.Duration `yaml:"maxDeviation"`
}

// StatusCfg controls the health-check anchor ping count (§4.F).
type StatusCfg struct {
	NumberOfPackets int `yaml:"numberOfPackets"`
}

// Stats controls the probe:stats:report cadence.
type Stats struct {
	Interval time.Duration `yaml:"interval"`
}

// Uptime controls the uptime-restart loop (§4.I).
type Uptime struct {
	Interval     time.Duration `yaml:"interval"`
	MaxDeviation time.Duration `yaml:"maxDeviation"`
	MaxUptime    time.Duration `yaml:"maxUptime"`
}

// MTRCommand holds mtr-specific command tuning.
type MTRCommand struct {
	Interval time.Duration `yaml:"interval"`
}

// Commands controls subprocess execution bounds (§4.D).
type Commands struct {
	Timeout time.Duration `yaml:"timeout"`
	MTR     MTRCommand    `yaml:"mtr"`
}

// Telemetry controls the probe's own internal self-observability
// counters, disabled by default exactly like the teacher's
// otel.MetricsConfig.Enabled.
type Telemetry struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"` // "none", "stdout", "otlp-grpc", "otlp-http"
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Config is the fully merged, ready-to-use probe configuration.
type Config struct {
	API         API       `yaml:"api"`
	Update      Update    `yaml:"update"`
	Status      StatusCfg `yaml:"status"`
	Stats       Stats     `yaml:"stats"`
	Uptime      Uptime    `yaml:"uptime"`
	Commands    Commands  `yaml:"commands"`
	Telemetry   Telemetry `yaml:"telemetry"`
	Environment string    `yaml:"-"`
}

// Default returns the built-in defaults, equivalent to the teacher's
// config/defaults.go constants generalized to the probe's own domain.
func Default() Config {
	return Config{
		API: API{
			Host:     "wss://api.globalping.io",
			HTTPHost: "https://api.globalping.io",
		},
		Update: Update{
			ReleaseURL:   "https://api.github.com/repos/jsdelivr/globalping-probe/releases/latest",
			Interval:     6 * time.Hour,
			MaxDeviation: 30 * time.Minute,
		},
		Status: StatusCfg{
			NumberOfPackets: 6,
		},
		Stats: Stats{
			Interval: 10 * time.Second,
		},
		Uptime: Uptime{
			Interval:     1 * time.Hour,
			MaxDeviation: 15 * time.Minute,
			MaxUptime:    7 * 24 * time.Hour,
		},
		Commands: Commands{
			Timeout: 25 * time.Second,
			MTR: MTRCommand{
				Interval: 500 * time.Millisecond,
			},
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Exporter: "none",
		},
		Environment: "production",
	}
}

// Load builds the effective configuration: defaults, overlaid by an
// optional YAML file (path from GP_CONFIG_FILE), overlaid by environment
// variables. This mirrors the teacher's default+overlay layering
// (internal/retention/config.go) generalized from a single struct merge
// to defaults -> file -> env.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("GP_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("GP_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GP_API_HTTP_HOST"); v != "" {
		cfg.API.HTTPHost = v
	}
	if v := os.Getenv("GP_COMMANDS_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Commands.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
}

// IsDevelopment reports whether the probe is running under the
// development environment flag (§4.I: disables self-update/restart loops).
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}
