package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.FlagPath == "" {
		return errors.New("paths.flag_path must be set")
	}
	return nil
}

func (c *Config) validateRules() error {
	for name, value := range map[string]float64{
		"rules.inheritance_confidence": c.Rules.InheritanceConfidence,
		"rules.prefix_confidence":      c.Rules.PrefixConfidence,
		"rules.dictionary_confidence":  c.Rules.DictionaryConfidence,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.MaxRequests <= 0 {
		return errors.New("ratelimit.max_requests must be positive")
	}
	if c.RateLimit.WindowMs <= 0 {
		return errors.New("ratelimit.window_ms must be positive")
	}
	if c.RateLimit.MinDelayMs < 0 {
		return errors.New("ratelimit.min_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
