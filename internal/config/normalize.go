package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeProgress()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
	c.normalizePlugins()
	c.normalizeStages()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("DISCFLOW_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.ProgressBucket <= 0 {
		c.Logging.ProgressBucket = defaultProgressBucket
	}
}

func (c *Config) normalizeProgress() {
	if c.Progress.MinSampleSize == 0 {
		c.Progress.MinSampleSize = defaultMinSampleSize
	}
	if c.Progress.MaxSampleSize == 0 {
		c.Progress.MaxSampleSize = defaultMaxSampleSize
	}
}

func (c *Config) normalizePlugins() {
	for i := range c.Plugins {
		p := &c.Plugins[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Steps <= 0 {
			p.Steps = defaultPluginSteps
		}
		if p.StepDelayMS < 0 {
			p.StepDelayMS = 0
		}
	}
}

func (c *Config) normalizeStages() {
	for i := range c.Stages {
		s := &c.Stages[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		s.Critical = trimIDs(s.Critical)
		s.Optional = trimIDs(s.Optional)
	}
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
