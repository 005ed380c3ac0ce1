package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Load(t *testing.T) {
	t.Run("Should load default configuration", func(t *testing.T) {
		m := NewManager()

		cfg, err := m.Load(context.Background())

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 3, cfg.RetryAttempts)
		assert.Equal(t, 4, cfg.InstallerMaxParallelism)
		assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseBackoff)
	})

	t.Run("Should override defaults from environment", func(t *testing.T) {
		t.Setenv("APM_RETRY_ATTEMPTS", "7")
		t.Setenv("APM_GENERAL_TOKEN_ENV_VAR", "MY_TOKEN")

		m := NewManager()
		cfg, err := m.Load(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 7, cfg.RetryAttempts)
		assert.Equal(t, "MY_TOKEN", cfg.GeneralTokenEnvVar)
	})

	t.Run("Should store loaded config for Get", func(t *testing.T) {
		m := NewManager()
		assert.Nil(t, m.Get())

		loaded, err := m.Load(context.Background())
		require.NoError(t, err)

		assert.Equal(t, loaded, m.Get())
	})
}

func TestContextConfig(t *testing.T) {
	t.Run("Should round-trip config through context", func(t *testing.T) {
		cfg := TestConfig()
		ctx := ContextWithConfig(context.Background(), cfg)

		assert.Equal(t, cfg, FromContext(ctx))
	})

	t.Run("Should fall back to defaults when absent", func(t *testing.T) {
		cfg := FromContext(context.Background())
		require.NotNil(t, cfg)
	})
}
