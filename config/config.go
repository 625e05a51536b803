package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ougajs-sys/easyflows-pro-sub003/resilience"
)

// Config is the configuration of the resilience layer and the probe command
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Retry   RetryConfig    `yaml:"retry"`
	Breaker BreakerConfig  `yaml:"breaker"`
	Targets []TargetConfig `yaml:"targets"`
}

// LogConfig selects the zap logger level and encoder
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// RetryConfig holds the retry policy settings
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	RetryableCodes    []string      `yaml:"retryable_codes"`
}

// BreakerConfig holds the circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// TargetConfig is a downstream dependency probed by cmd/probe.
type TargetConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used for keys missing from a file.
func Default() Config {
	policy := resilience.DefaultPolicy()
	breaker := resilience.DefaultCircuitBreakerConfig()

	return Config{
		Log: LogConfig{Level: "info"},
		Retry: RetryConfig{
			MaxRetries:        policy.MaxRetries,
			InitialDelay:      policy.InitialDelay,
			MaxDelay:          policy.MaxDelay,
			BackoffMultiplier: policy.BackoffMultiplier,
			RetryableCodes:    policy.RetryableCodes,
		},
		Breaker: BreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			ResetTimeout:     breaker.ResetTimeout,
		},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.Breaker.CircuitBreakerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("breaker: %w", err))
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, target := range c.Targets {
		if target.Name == "" {
			errs = append(errs, fmt.Errorf("targets[%d]: name is required", i))
		} else if seen[target.Name] {
			errs = append(errs, fmt.Errorf("targets[%d]: duplicate name %q", i, target.Name))
		}
		seen[target.Name] = true

		if u, err := url.Parse(target.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("targets[%d]: invalid url %q", i, target.URL))
		}
	}
	return errors.Join(errs...)
}

// Policy converts the settings to a resilience.Policy
func (c RetryConfig) Policy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:        c.MaxRetries,
		InitialDelay:      c.InitialDelay,
		MaxDelay:          c.MaxDelay,
		BackoffMultiplier: c.BackoffMultiplier,
		RetryableCodes:    c.RetryableCodes,
	}
}

// CircuitBreakerConfig converts the settings to a resilience.CircuitBreakerConfig
func (c BreakerConfig) CircuitBreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     c.ResetTimeout,
	}
}

// Build creates a zap logger at the configured level.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	cfg := zap.NewProductionConfig()
	if c.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}
