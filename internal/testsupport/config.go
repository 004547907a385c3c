package testsupport

import (
	"path/filepath"
	"testing"

	"glossa/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.FlagPath = filepath.Join(base, "killswitch.json")
	cfg.AI.APIKey = "test"
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.HeartbeatInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithChunkSize overrides the executor chunk size.
func WithChunkSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.ChunkSize = size
	}
}

// WithRateLimit overrides the limiter window settings.
func WithRateLimit(maxRequests, windowMs, minDelayMs int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = maxRequests
		cfg.RateLimit.WindowMs = windowMs
		cfg.RateLimit.MinDelayMs = minDelayMs
	}
}
