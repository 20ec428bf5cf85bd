package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"basin/channel/memory"
	"basin/channel/postgres"
	"basin/channel/redis"
	"basin/internal/buffer"
	"basin/internal/engine"
)

const SupportedSchema = "v1"

type channelSection struct {
	Backend  string          `yaml:"backend"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
	Memory   memory.Config   `yaml:"memory"`
}

type bufferSection struct {
	MaxRecords int   `yaml:"max_records"`
	MaxBytes   int64 `yaml:"max_bytes"`
	MaxAgeMS   int   `yaml:"max_age_ms"`
}

type retrySection struct {
	Attempts     int `yaml:"attempts"`
	BackoffMS    int `yaml:"backoff_ms"`
	BackoffCapMS int `yaml:"backoff_cap_ms"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	Channel channelSection `yaml:"channel"`
	Buffer  bufferSection  `yaml:"buffer"`
	Retry   retrySection   `yaml:"retry"`

	SweepIntervalMS int `yaml:"sweep_interval_ms"`
	CloseTimeoutMS  int `yaml:"close_timeout_ms"`
	MetricsPort     int `yaml:"metrics_port"`
}

// LoadConnectorSpec parses a connector YAML, validates schema_version, and
// returns the parsed spec and an absolute path to the source config (if set).
func LoadConnectorSpec(path string) (File, string, error) {
	var cfg File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("connector schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if err := cfg.validate(); err != nil {
		return cfg, "", err
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	return cfg, confPath, nil
}

func (f File) validate() error {
	if f.Source.Kind != "kafka" {
		return fmt.Errorf("unsupported source %q", f.Source.Kind)
	}
	if f.Channel.Backend == "" {
		return fmt.Errorf("channel.backend is required")
	}
	return f.Threshold().Validate()
}

// Threshold converts the buffer section into engine thresholds.
func (f File) Threshold() buffer.Threshold {
	return buffer.Threshold{
		MaxRecords: f.Buffer.MaxRecords,
		MaxBytes:   f.Buffer.MaxBytes,
		MaxAge:     time.Duration(f.Buffer.MaxAgeMS) * time.Millisecond,
	}
}

// RetryConfig converts the retry section; zero fields keep engine defaults.
func (f File) RetryConfig() engine.RetryConfig {
	return engine.RetryConfig{
		MaxAttempts: f.Retry.Attempts,
		Backoff:     time.Duration(f.Retry.BackoffMS) * time.Millisecond,
		BackoffCap:  time.Duration(f.Retry.BackoffCapMS) * time.Millisecond,
	}
}

// ChannelConfig returns the config struct for the selected backend, in the
// shape its Configure expects.
func (f File) ChannelConfig() (any, error) {
	switch f.Channel.Backend {
	case "postgres":
		return f.Channel.Postgres, nil
	case "redis":
		return f.Channel.Redis, nil
	case "memory":
		return f.Channel.Memory, nil
	}
	return nil, fmt.Errorf("no config block for channel backend %q", f.Channel.Backend)
}

func (f File) SweepInterval() time.Duration {
	return time.Duration(f.SweepIntervalMS) * time.Millisecond
}

func (f File) CloseTimeout() time.Duration {
	return time.Duration(f.CloseTimeoutMS) * time.Millisecond
}
