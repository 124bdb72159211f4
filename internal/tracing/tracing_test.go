package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilProviderShutdownIsNoOp(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestZeroValueProviderShutdownIsNoOp(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}
