package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitReturnsDebugLevelLoggerInDevelopment(t *testing.T) {
	logger := Init("development")
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestInitReturnsInfoLevelLoggerInProduction(t *testing.T) {
	logger := Init("production")
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
}

func TestInitSetsSlogDefault(t *testing.T) {
	logger := Init("production")
	assert.Same(t, logger, slog.Default())
}
