package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "trigger:", cfg.KeyPrefix)
	assert.Equal(t, "trigger_events", cfg.RabbitMQQueue)
	assert.Equal(t, 10, cfg.Prefetch)
	assert.Equal(t, 300, cfg.ContextWindowSeconds)
	assert.Equal(t, 5*time.Minute, cfg.ContextWindow())
	assert.Equal(t, 3, cfg.NotificationMaxRetry)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("RABBITMQ_PREFETCH", "25")
	t.Setenv("OPENAI_TIMEOUT", "45")
	t.Setenv("BATCH_SWEEP_INTERVAL", "10s")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 25, cfg.Prefetch)
	assert.Equal(t, 45*time.Second, cfg.OpenAITimeout, "bare seconds accepted")
	assert.Equal(t, 10*time.Second, cfg.BatchSweepInterval, "duration strings accepted")
	assert.True(t, cfg.Debug)
}

func TestLoadValidation(t *testing.T) {
	t.Run("window too small", func(t *testing.T) {
		t.Setenv("CONTEXT_WINDOW_SECONDS", "30")
		_, err := Load()
		assert.ErrorContains(t, err, "CONTEXT_WINDOW_SECONDS")
	})

	t.Run("max events too small", func(t *testing.T) {
		t.Setenv("CONTEXT_MAX_EVENTS", "5")
		_, err := Load()
		assert.ErrorContains(t, err, "CONTEXT_MAX_EVENTS")
	})

	t.Run("unparseable int", func(t *testing.T) {
		t.Setenv("RABBITMQ_PREFETCH", "many")
		_, err := Load()
		assert.ErrorContains(t, err, "RABBITMQ_PREFETCH")
	})
}
