// Package config loads client defaults from a YAML file and turns them into
// call options. Options built from a file apply first, so explicit options at
// the call site win.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aqueductlabs/aqueduct/llm"
	"github.com/aqueductlabs/aqueduct/retry"
)

// Config holds client-level defaults.
type Config struct {
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty"`
	TopP          *float64 `yaml:"top_p,omitempty"`
	SystemMessage string   `yaml:"system_message,omitempty"`

	Backoff *Backoff `yaml:"backoff,omitempty"`

	// GracefulCancellationTimeout bounds cleanup after a cancelled call,
	// e.g. "5s".
	GracefulCancellationTimeout string `yaml:"graceful_cancellation_timeout,omitempty"`
}

// Backoff mirrors retry.BackoffConfig with YAML-friendly duration strings.
type Backoff struct {
	Strategy    string  `yaml:"strategy,omitempty"` // "exponential" or "linear"
	BaseDelay   string  `yaml:"base_delay,omitempty"`
	MaxDelay    string  `yaml:"max_delay,omitempty"`
	Multiplier  float64 `yaml:"multiplier,omitempty"`
	Jitter      *bool   `yaml:"jitter,omitempty"`
	MaxAttempts int     `yaml:"max_attempts,omitempty"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GracefulCancellationTimeout != "" {
		if _, err := time.ParseDuration(c.GracefulCancellationTimeout); err != nil {
			return fmt.Errorf("invalid graceful_cancellation_timeout: %w", err)
		}
	}
	if b := c.Backoff; b != nil {
		switch b.Strategy {
		case "", string(retry.StrategyExponential), string(retry.StrategyLinear):
		default:
			return fmt.Errorf("unknown backoff strategy %q", b.Strategy)
		}
		for name, v := range map[string]string{
			"base_delay": b.BaseDelay,
			"max_delay":  b.MaxDelay,
		} {
			if v == "" {
				continue
			}
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid backoff %s: %w", name, err)
			}
		}
	}
	return nil
}

// Options converts the configuration into call options.
func (c *Config) Options() []llm.Option {
	var opts []llm.Option

	if c.Provider != "" {
		opts = append(opts, llm.WithProvider(c.Provider))
	}
	if c.Model != "" {
		opts = append(opts, llm.WithModel(c.Model))
	}
	if c.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*c.Temperature))
	}
	if c.MaxTokens != nil {
		opts = append(opts, llm.WithMaxTokens(*c.MaxTokens))
	}
	if c.TopP != nil {
		opts = append(opts, llm.WithTopP(*c.TopP))
	}
	if c.SystemMessage != "" {
		opts = append(opts, llm.WithSystemMessage(c.SystemMessage))
	}
	if c.Backoff != nil {
		opts = append(opts, llm.WithBackoff(c.Backoff.toRetry()))
	}
	if c.GracefulCancellationTimeout != "" {
		d, err := time.ParseDuration(c.GracefulCancellationTimeout)
		if err == nil {
			opts = append(opts, llm.WithGracefulCancellationTimeout(d))
		}
	}

	return opts
}

// toRetry fills unset fields from the dispatch loop's defaults. Validation
// has already checked the duration strings.
func (b *Backoff) toRetry() retry.BackoffConfig {
	cfg := retry.DefaultBackoffConfig()

	if b.Strategy != "" {
		cfg.Strategy = retry.Strategy(b.Strategy)
	}
	if b.BaseDelay != "" {
		if d, err := time.ParseDuration(b.BaseDelay); err == nil {
			cfg.BaseDelay = d
		}
	}
	if b.MaxDelay != "" {
		if d, err := time.ParseDuration(b.MaxDelay); err == nil {
			cfg.MaxDelay = d
		}
	}
	if b.Multiplier > 0 {
		cfg.Multiplier = b.Multiplier
	}
	if b.Jitter != nil {
		cfg.Jitter = *b.Jitter
	}
	if b.MaxAttempts > 0 {
		cfg.MaxAttempts = b.MaxAttempts
	}
	return cfg
}
