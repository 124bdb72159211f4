package server

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBareApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:    ctx,
		cancel: cancel,
		logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestShutdownWithNoServersIsANoOp(t *testing.T) {
	app := newBareApplication()
	assert.NoError(t, app.Shutdown())
}

func TestShutdownIsIdempotent(t *testing.T) {
	app := newBareApplication()
	assert.NoError(t, app.Shutdown())
	assert.NoError(t, app.Shutdown(), "a second Shutdown call must not re-run teardown or error")
}

func TestCloseToleratesNilDependencies(t *testing.T) {
	app := newBareApplication()
	assert.NotPanics(t, func() { app.Close() })
}
