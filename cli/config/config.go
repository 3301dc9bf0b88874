package config

import (
	"fmt"
	"time"
)

// Config represents a maxdap.yaml configuration file.
// All values are optional and act as defaults for maxdap serve flags.
// CLI flags always override config values.
type Config struct {
	Target   TargetConfig `yaml:"target"`
	Program  string       `yaml:"program"`
	Debugger string       `yaml:"debugger"`
	Sink     SinkConfig   `yaml:"sink"`
	LogLevel string       `yaml:"log_level"`
}

// TargetConfig holds defaults for the debug endpoint the backend
// listens on inside the target process. Used when the attach request
// does not carry them.
type TargetConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SinkConfig holds execution-sink defaults from the config file.
type SinkConfig struct {
	WindowTitle  string   `yaml:"window_title"`
	TempDir      string   `yaml:"temp_dir"`
	Marker       string   `yaml:"marker"`
	PollInterval Duration `yaml:"poll_interval"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "100ms", "5s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "100ms" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values that cannot be defaulted away downstream.
func (c *Config) Validate() error {
	if c.Target.Port < 0 || c.Target.Port > 65535 {
		return fmt.Errorf("target port out of range: %d", c.Target.Port)
	}
	if c.Sink.PollInterval.Duration < 0 {
		return fmt.Errorf("negative poll interval: %s", c.Sink.PollInterval.Duration)
	}
	return nil
}
