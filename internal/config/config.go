// Package config loads the ambient, environment-driven configuration that
// governs fetch timeouts, retries, installer concurrency, and graph limits.
// It is distinct from the per-project apm.yml manifest (see package
// manifest).
package config

import "time"

// Config is the process-wide ambient configuration for the apm core.
type Config struct {
	// Fetch governs C4's network behavior.
	FetchTotalTimeout   time.Duration `koanf:"fetch_total_timeout"`
	FetchConnectTimeout time.Duration `koanf:"fetch_connect_timeout"`
	RetryAttempts       int           `koanf:"retry_attempts"`
	RetryBaseBackoff    time.Duration `koanf:"retry_base_backoff"`

	// Installer governs C6's concurrency.
	InstallerMaxParallelism int `koanf:"installer_max_parallelism"`

	// Graph governs C5's bounds.
	GraphMaxDepth int `koanf:"graph_max_depth"`
	GraphMaxNodes int `koanf:"graph_max_nodes"`

	// Directory analysis governs C7's walk depth.
	AnalysisMaxDepth int `koanf:"analysis_max_depth"`

	// Token environment variable names, in precedence order, used by C4.
	PackageTokenEnvVar string `koanf:"package_token_env_var"`
	GeneralTokenEnvVar string `koanf:"general_token_env_var"`

	// Watch governs compile --watch debouncing.
	WatchDebounce time.Duration `koanf:"watch_debounce"`
}

// DefaultConfig returns the configuration used when no environment overrides
// are present, matching the defaults named in spec §4.4-§4.7.
func DefaultConfig() *Config {
	return &Config{
		FetchTotalTimeout:       60 * time.Second,
		FetchConnectTimeout:     10 * time.Second,
		RetryAttempts:           3,
		RetryBaseBackoff:        500 * time.Millisecond,
		InstallerMaxParallelism: 4,
		GraphMaxDepth:           10,
		GraphMaxNodes:           256,
		AnalysisMaxDepth:        12,
		PackageTokenEnvVar:      "APM_PACKAGE_TOKEN",
		GeneralTokenEnvVar:      "GITHUB_TOKEN",
		WatchDebounce:           200 * time.Millisecond,
	}
}

// TestConfig returns a configuration tuned for fast, deterministic tests:
// short timeouts, at most one retry after the first attempt, single-threaded
// install.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.FetchTotalTimeout = 2 * time.Second
	cfg.FetchConnectTimeout = 1 * time.Second
	cfg.RetryAttempts = 1
	cfg.RetryBaseBackoff = time.Millisecond
	cfg.InstallerMaxParallelism = 1
	cfg.WatchDebounce = time.Millisecond
	return cfg
}
