package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"discflow/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// ProgressBucket is the percent step at which plugin progress is logged.
	ProgressBucket float64 `toml:"progress_bucket"`
}

// Progress bounds the time-remaining estimator.
type Progress struct {
	MinSampleSize    int `toml:"min_sample_size"`
	MaxSampleSize    int `toml:"max_sample_size"`
	CoalesceWindowMS int `toml:"coalesce_window_ms"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// History configures the SQLite run history.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Plugin declares a simulated plugin instance.
type Plugin struct {
	ID            string  `toml:"id"`
	Kind          string  `toml:"kind"`
	Steps         int     `toml:"steps"`
	StepDelayMS   int     `toml:"step_delay_ms"`
	FailAtPercent float64 `toml:"fail_at_percent"`
	Panic         bool    `toml:"panic"`
}

// Stage declares a named stage: critical plugins run in order as the gating
// phase, then each optional plugin runs as its own best-effort phase.
type Stage struct {
	Name     string   `toml:"name"`
	Critical []string `toml:"critical"`
	Optional []string `toml:"optional"`
}

// Config encapsulates all configuration values for discflow.
//
// Configuration sections by subsystem:
//   - Paths: state (lock, history) and log directories
//   - Logging: log format and level
//   - Progress: sample window bounds for time-remaining estimates
//   - Metrics: Prometheus listener
//   - History: run history database
//   - Plugins: plugin instances available to stages
//   - Stages: stage composition
type Config struct {
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
	Progress Progress `toml:"progress"`
	Metrics  Metrics  `toml:"metrics"`
	History  History  `toml:"history"`
	Plugins  []Plugin `toml:"plugins"`
	Stages   []Stage  `toml:"stages"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// A file that declares its own plugins or stages replaces the defaults
		// rather than appending to them.
		decoded := cfg
		decoded.Plugins = nil
		decoded.Stages = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&decoded); err != nil {
			return nil, "", false, fmt.Errorf("%w: parse config: %w", services.ErrConfiguration, err)
		}
		if decoded.Plugins == nil {
			decoded.Plugins = cfg.Plugins
		}
		if decoded.Stages == nil {
			decoded.Stages = cfg.Stages
		}
		cfg = decoded
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("discflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock guarding the state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "discflow.lock")
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	if strings.TrimSpace(c.History.Path) != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// CoalesceWindow returns the configured sample coalescing interval.
func (c *Config) CoalesceWindow() time.Duration {
	return time.Duration(c.Progress.CoalesceWindowMS) * time.Millisecond
}

// Stage returns the named stage definition.
func (c *Config) Stage(name string) (Stage, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
