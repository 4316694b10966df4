// Package config loads routeward's configuration using koanf/v2, layering
// a YAML file over built-in defaults and environment variable overrides —
// the same file+env+defaults layering used elsewhere in the retrieval
// pack's daemons.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cuemby/routeward/pkg/types"
)

// Config holds routeward's complete runtime configuration, per spec.md §6's
// enumerated configuration options.
type Config struct {
	Target  TargetConfig  `koanf:"target"`
	Filters FilterConfig  `koanf:"filters"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// TargetConfig describes the target forwarder and the admin protocol
// parameters used to drive it.
type TargetConfig struct {
	// RoutingService is the target forwarder's name (targetRoutingService).
	RoutingService string `koanf:"routing_service"`
	// Addr is the admin gRPC endpoint address.
	Addr string `koanf:"addr"`
	// RetryDelay is the interval between send attempts for an
	// outstanding command.
	RetryDelay time.Duration `koanf:"retry_delay"`
	// RequestTimeout bounds a single admin send.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// FilterConfig controls which built-in filters are registered, and in
// what order.
type FilterConfig struct {
	// GroupName enables the group self-filter when non-empty.
	GroupName string `koanf:"group_name"`
	// Prefix overrides the vendor-internal-topic prefix filter's prefix.
	Prefix string `koanf:"prefix"`
	// IgnoreWildcardPartitions enables the wildcard-partition filter.
	IgnoreWildcardPartitions bool `koanf:"ignore_wildcard_partitions"`
}

// LogConfig holds log settings loaded from the file and environment.
// routewardd does not read it: its log level and format come from the
// --log-level and --log-json flags.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// envPrefix is the environment variable prefix for routeward configuration.
// Variables are named ROUTEWARD_<section>_<key>, e.g. ROUTEWARD_TARGET_ADDR.
const envPrefix = "ROUTEWARD_"

// DefaultConfig returns a Config populated with spec.md §4.3's defaults:
// retryDelay = 10s, requestTimeout = 10s.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			RetryDelay:     10 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Filters: FilterConfig{
			Prefix:                   "rti",
			IgnoreWildcardPartitions: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// Load reads configuration from a YAML file at path (if path is
// non-empty; a file that cannot be read is an error), overlays ROUTEWARD_ environment
// variable overrides, and merges on top of DefaultConfig(). It validates
// the result and returns a *types.ConfigError on any constraint
// violation, matching spec.md §7 ("construction-time validation throws").
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("routeward: load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("routeward: load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("routeward: load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("routeward: unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key; the rest
	// belong to the key itself (e.g. TARGET_ROUTING_SERVICE ->
	// target.routing_service).
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"target.routing_service":          defaults.Target.RoutingService,
		"target.retry_delay":              defaults.Target.RetryDelay.String(),
		"target.request_timeout":          defaults.Target.RequestTimeout.String(),
		"filters.prefix":                  defaults.Filters.Prefix,
		"filters.ignore_wildcard_partitions": defaults.Filters.IgnoreWildcardPartitions,
		"log.level":                       defaults.Log.Level,
		"log.format":                      defaults.Log.Format,
		"metrics.addr":                    defaults.Metrics.Addr,
		"metrics.path":                    defaults.Metrics.Path,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the configuration against spec.md §4.3/§7's
// construction-time constraints, returning a *types.ConfigError on the
// first violation found.
func Validate(cfg *Config) error {
	if cfg.Target.RoutingService == "" {
		return &types.ConfigError{Msg: "target.routing_service must be non-empty"}
	}
	if cfg.Target.Addr == "" {
		return &types.ConfigError{Msg: "target.addr must be non-empty"}
	}
	if cfg.Target.RetryDelay < 0 {
		return &types.ConfigError{Msg: "target.retry_delay must be >= 0"}
	}
	if cfg.Target.RequestTimeout <= 0 {
		return &types.ConfigError{Msg: "target.request_timeout must be > 0"}
	}
	return nil
}
