// Package config loads the daemon's own configuration: the ambient knobs
// that govern ring buffer sizing, retention, subscriber back-pressure, and
// the optional metrics/audit sinks. It never describes a managed process —
// those are supplied per-call over the RPC surface.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the daemon's own configuration, loaded from an optional file
// (viper supports toml/yaml/json) and environment variables prefixed
// MCPROCD_, with defaults applied for anything unset.
type Config struct {
	StateRoot   string `mapstructure:"state_root"`
	RuntimeRoot string `mapstructure:"runtime_root"`

	RingBufferSize      int           `mapstructure:"ring_buffer_size"`
	RetentionDays       int           `mapstructure:"retention_days"`
	MaxLogSizeMB        int           `mapstructure:"max_log_size_mb"`
	SubscriberQueueSize int           `mapstructure:"subscriber_queue_size"`
	GracePeriod         time.Duration `mapstructure:"grace_period"`
	PortSampleInterval  time.Duration `mapstructure:"port_sample_interval"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite, postgres, clickhouse
	DSN     string `mapstructure:"dsn"`
}

// Defaults mirrors the values named in spec §4.2/§5: 10,000-line ring buffer,
// 7-day retention, 50 MiB max log size, 1024-entry subscriber queues, a
// ~5-second grace period, and a 5-second port sampling cadence.
func Defaults() Config {
	return Config{
		RingBufferSize:      10000,
		RetentionDays:       7,
		MaxLogSizeMB:        50,
		SubscriberQueueSize: 1024,
		GracePeriod:         5 * time.Second,
		PortSampleInterval:  5 * time.Second,
	}
}

// Load reads configPath (if non-empty) over the defaults, then applies
// MCPROCD_-prefixed environment overrides. A missing configPath is not an
// error; the defaults (plus env overrides) are returned as-is.
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("mcprocd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AllSettings only lists keys viper already knows, so each key is bound
	// to its MCPROCD_ variable explicitly.
	for _, k := range []string{"state_root", "runtime_root", "ring_buffer_size", "retention_days", "max_log_size_mb", "subscriber_queue_size", "grace_period", "port_sample_interval", "metrics.enabled", "metrics.listen", "audit.enabled", "audit.driver", "audit.dsn"} {
		_ = v.BindEnv(k)
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
