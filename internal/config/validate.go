package config

import (
	"errors"
	"fmt"

	"discflow/internal/plugin"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Bind == "" {
		return errors.New("metrics.bind must be set when metrics.enabled is true")
	}
	if err := c.validatePlugins(); err != nil {
		return err
	}
	return c.validateStages()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console, or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.MinSampleSize < 2 {
		return fmt.Errorf("progress.min_sample_size must be at least 2 (got %d)", c.Progress.MinSampleSize)
	}
	if c.Progress.MaxSampleSize < c.Progress.MinSampleSize {
		return fmt.Errorf("progress.max_sample_size must be >= progress.min_sample_size (got %d < %d)",
			c.Progress.MaxSampleSize, c.Progress.MinSampleSize)
	}
	if c.Progress.CoalesceWindowMS < 0 {
		return errors.New("progress.coalesce_window_ms must not be negative")
	}
	return nil
}

func (c *Config) validatePlugins() error {
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.ID == "" {
			return fmt.Errorf("plugins[%d].id must be set", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("plugins[%d].id %q is declared more than once", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if _, err := plugin.ParseKind(p.Kind); err != nil {
			return fmt.Errorf("plugins[%d].kind: %w", i, err)
		}
		if p.FailAtPercent < 0 || p.FailAtPercent > 100 {
			return fmt.Errorf("plugins[%d].fail_at_percent must be between 0 and 100", i)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	if len(c.Stages) == 0 {
		return errors.New("at least one [[stages]] entry is required")
	}
	plugins := make(map[string]struct{}, len(c.Plugins))
	for _, p := range c.Plugins {
		plugins[p.ID] = struct{}{}
	}
	names := make(map[string]struct{}, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stages[%d].name must be set", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("stage %q is declared more than once", s.Name)
		}
		names[s.Name] = struct{}{}
		if len(s.Critical) == 0 {
			return fmt.Errorf("stage %q needs at least one critical plugin", s.Name)
		}
		for _, id := range append(append([]string{}, s.Critical...), s.Optional...) {
			if _, ok := plugins[id]; !ok {
				return fmt.Errorf("stage %q references unknown plugin %q", s.Name, id)
			}
		}
	}
	return nil
}
