package config

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/apm-dev/apm/internal/logger"
)

// Manager owns the process-wide Config, loaded in layers: struct defaults,
// then APM_-prefixed environment variables.
type Manager struct {
	current atomic.Pointer[Config]
}

// NewManager constructs a Manager with no loaded configuration; callers must
// call Load before Get returns a non-nil value.
func NewManager() *Manager {
	return &Manager{}
}

// Load layers the default Config struct under environment-variable
// overrides and stores the result. Extra koanf.Provider values are applied
// between the defaults and the environment layer.
func (m *Manager) Load(_ context.Context, extra ...koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}
	for _, p := range extra {
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load config provider: %w", err)
		}
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: "APM_",
		TransformFunc: func(k, v string) (string, any) {
			key := strings.ToLower(strings.TrimPrefix(k, "APM_"))
			return key, v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	out := *defaults
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	m.current.Store(&out)
	return &out, nil
}

// Get returns the currently loaded Config, or nil if Load has not run.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

type ctxKey string

// ConfigCtxKey is the context.Context key under which the active Config is
// stored.
const ConfigCtxKey ctxKey = "apm_config"

// ContextWithConfig returns a copy of ctx carrying cfg.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

// FromContext retrieves the Config stored in ctx, falling back to
// TestConfig under `go test` and DefaultConfig otherwise when none is
// present.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	if logger.IsTestEnvironment() {
		return TestConfig()
	}
	return DefaultConfig()
}
