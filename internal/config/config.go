package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	// FlagPath is the kill-switch flag file. It deliberately lives outside
	// the database so the switch stays reachable when SQLite is wedged.
	FlagPath string `toml:"flag_path"`
}

// AI contains connection settings for the external classification service.
type AI struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	Model           string `toml:"model"`
	SecondaryModel  string `toml:"secondary_model"`
	Referer         string `toml:"referer"`
	Title           string `toml:"title"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	TaxonomyVersion string `toml:"taxonomy_version"`
}

// Rules contains tuning for the morphological rule engine. The confidence
// values are hand-tuned defaults carried as configuration, not invariants.
type Rules struct {
	InheritanceConfidence float64 `toml:"inheritance_confidence"`
	PrefixConfidence      float64 `toml:"prefix_confidence"`
	DictionaryConfidence  float64 `toml:"dictionary_confidence"`
}

// RateLimit bounds calls to the external classification tier.
type RateLimit struct {
	MaxRequests int `toml:"max_requests"`
	WindowMs    int `toml:"window_ms"`
	MinDelayMs  int `toml:"min_delay_ms"`
}

// Workflow contains daemon timing and chunking configuration.
type Workflow struct {
	ChunkSize            int `toml:"chunk_size"`
	WorkerCount          int `toml:"worker_count"`
	PollInterval         int `toml:"poll_interval"`
	HeartbeatInterval    int `toml:"heartbeat_interval"`
	HeartbeatTimeout     int `toml:"heartbeat_timeout"`
	MaxChunkFailures     int `toml:"max_chunk_failures"`
	DeferredWaitAttempts int `toml:"deferred_wait_attempts"`
}

// KillSwitch contains emergency-stop configuration.
type KillSwitch struct {
	TTLMinutes           int `toml:"ttl_minutes"`
	CooldownMinutes      int `toml:"cooldown_minutes"`
	CancelTimeoutSeconds int `toml:"cancel_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for glossa.
type Config struct {
	Paths      Paths      `toml:"paths"`
	AI         AI         `toml:"ai"`
	Rules      Rules      `toml:"rules"`
	RateLimit  RateLimit  `toml:"ratelimit"`
	Workflow   Workflow   `toml:"workflow"`
	KillSwitch KillSwitch `toml:"killswitch"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/glossa/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
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

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("glossa.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.FlagPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create flag directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the shared SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "glossa.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "glossad.lock")
}

// PidPath returns the daemon pid file location, used by the CLI's liveness
// probe.
func (c *Config) PidPath() string {
	return filepath.Join(c.Paths.DataDir, "glossad.pid")
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
