package nasc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds container settings that can be loaded from a YAML file.
//
// Example file:
//
//	transitive_links: false
//	log_level: info
//	metrics:
//	  enabled: true
//	  namespace: shop
type Config struct {
	// TransitiveLinks makes resolution follow the links of linked scopes.
	TransitiveLinks bool `yaml:"transitive_links"`

	// LogLevel is used by BuildLogger. Any zap level name is accepted.
	LogLevel string `yaml:"log_level"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Enabled registers the collectors with prometheus.DefaultRegisterer
	// unless WithMetrics supplies another registerer.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Metrics: MetricsConfig{
			Namespace: "nasc",
		},
	}
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data. Unset fields keep their defaults and
// unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
	}
	if c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace cannot be empty")
	}
	return nil
}

// BuildLogger builds a production zap logger at the configured level.
func (c Config) BuildLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if c.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
