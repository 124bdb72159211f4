package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "8081", cfg.WebSocketPort)
	assert.Equal(t, "development", cfg.NodeEnv)
	assert.True(t, cfg.PrometheusEnabled)
	assert.Equal(t, 5, cfg.WorkerMaxRetries)
	assert.False(t, cfg.IsProduction())
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("NODE_ENV", "Production")

	cfg := Load()
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.True(t, cfg.IsProduction(), "IsProduction must be case-insensitive")
}

func TestGetEnvFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("CONFIG_TEST_UNSET_KEY", "fallback"))
}

func TestGetEnvPrefersSetValue(t *testing.T) {
	t.Setenv("CONFIG_TEST_SET_KEY", "explicit")
	assert.Equal(t, "explicit", getEnv("CONFIG_TEST_SET_KEY", "fallback"))
}

func TestWorkerRetryDelayDefaultsToSixtySeconds(t *testing.T) {
	cfg := Load()
	assert.Equal(t, float64(60), cfg.WorkerRetryDelay.Seconds())
}
