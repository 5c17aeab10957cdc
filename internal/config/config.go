// Package config provides YAML configuration loading and validation for the
// perfprobe CLI, following the same read -> unmarshal -> applyDefaults ->
// validate pipeline as the TripWire agent's internal/config/config.go.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/elus10n/profiler/internal/metrics"
	"github.com/elus10n/profiler/internal/session"
)

// Config is the top-level configuration for a perfprobe run.
type Config struct {
	// Program is the path of the executable to spawn and profile. Required.
	Program string `yaml:"program"`

	// Args are the arguments passed to Program (not including Program
	// itself).
	Args []string `yaml:"args"`

	// Metrics is the ordered list of counters to sample. Accepted values
	// are the MetricKind names in internal/metrics, matched exactly in
	// lower case ("cpu_cycles", "page_faults", ...). Defaults to ["page_faults"] when
	// omitted, matching session.DefaultConfig.
	Metrics []string `yaml:"metrics"`

	// IntervalMs is the sampling interval in milliseconds, in [100, 5000].
	// Defaults to 500 when omitted.
	IntervalMs int `yaml:"interval_ms"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// Transport configures streaming snapshots to a collector. Optional:
	// a zero-value Transport means "print locally only".
	Transport TransportConfig `yaml:"transport"`

	// Audit configures the tamper-evident session lifecycle log. Optional.
	Audit AuditConfig `yaml:"audit"`
}

// TransportConfig describes an optional gRPC collector endpoint.
type TransportConfig struct {
	// Enabled turns on streaming to Addr. Defaults to false.
	Enabled bool `yaml:"enabled"`

	// Addr is the collector's gRPC endpoint (e.g. "collector.example.com:4443").
	// Required when Enabled.
	Addr string `yaml:"addr"`

	// TLS holds mTLS material for the connection to Addr. Required when
	// Enabled, unless Insecure is set.
	TLS TLSConfig `yaml:"tls"`

	// Insecure disables TLS for local development. Defaults to false.
	Insecure bool `yaml:"insecure"`
}

// TLSConfig holds certificate and key paths for mTLS, identical in shape to
// the TripWire agent's TLSConfig.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
	CAPath   string `yaml:"ca_path"`
}

// AuditConfig describes the optional hash-chained session audit log.
type AuditConfig struct {
	// Enabled turns on audit logging. Defaults to false.
	Enabled bool `yaml:"enabled"`

	// Path is the file the audit log is appended to. Required when
	// Enabled.
	Path string `yaml:"path"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var metricNames = map[string]metrics.MetricKind{
	"instructions":     metrics.Instructions,
	"cpu_cycles":       metrics.CPUCycles,
	"cache_misses":     metrics.CacheMisses,
	"cache_references": metrics.CacheReferences,
	"branch_misses":    metrics.BranchMisses,
	"page_faults":      metrics.PageFaults,
	"context_switches": metrics.ContextSwitches,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates it. It returns a typed error describing
// every validation failure found, joined with errors.Join.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = []string{"page_faults"}
	}
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = 500
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Program == "" {
		errs = append(errs, errors.New("program is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.IntervalMs < 100 || cfg.IntervalMs > 5000 {
		errs = append(errs, fmt.Errorf("interval_ms %d must be in [100, 5000]", cfg.IntervalMs))
	}
	if len(cfg.Metrics) == 0 {
		errs = append(errs, errors.New("metrics must be non-empty"))
	}
	for _, name := range cfg.Metrics {
		if _, ok := metricNames[name]; !ok {
			errs = append(errs, fmt.Errorf("metrics: %q is not a recognised metric kind", name))
		}
	}

	if cfg.Transport.Enabled {
		if cfg.Transport.Addr == "" {
			errs = append(errs, errors.New("transport.addr is required when transport.enabled"))
		}
		if !cfg.Transport.Insecure {
			if cfg.Transport.TLS.CertPath == "" {
				errs = append(errs, errors.New("transport.tls.cert_path is required unless transport.insecure"))
			}
			if cfg.Transport.TLS.KeyPath == "" {
				errs = append(errs, errors.New("transport.tls.key_path is required unless transport.insecure"))
			}
			if cfg.Transport.TLS.CAPath == "" {
				errs = append(errs, errors.New("transport.tls.ca_path is required unless transport.insecure"))
			}
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path is required when audit.enabled"))
	}

	return errors.Join(errs...)
}

// SessionConfig converts the validated metric names and interval into a
// session.Config ready to pass to session.Coordinator.Start.
func (c *Config) SessionConfig() session.Config {
	kinds := make([]metrics.MetricKind, 0, len(c.Metrics))
	for _, name := range c.Metrics {
		if kind, ok := metricNames[name]; ok {
			kinds = append(kinds, kind)
		}
	}
	return session.Config{Metrics: kinds, IntervalMs: c.IntervalMs}
}
