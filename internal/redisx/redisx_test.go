package redisx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCreatesThreeDistinctClients(t *testing.T) {
	c := New(Config{URL: "localhost:6379"})
	defer c.Close()

	assert.NotSame(t, c.General, c.Publisher)
	assert.NotSame(t, c.General, c.Subscriber)
	assert.NotSame(t, c.Publisher, c.Subscriber)
}

func TestCloseReturnsFirstErrorButClosesAll(t *testing.T) {
	c := New(Config{URL: "localhost:6379"})
	assert.NoError(t, c.Close())
	// A second Close on already-closed clients does not panic; it reports
	// the first client's "already closed" error.
	assert.Error(t, c.Close())
}
