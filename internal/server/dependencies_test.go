package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub005/internal/config"
)

func TestOpenPostgresSkipsReplicaWhenURLEmpty(t *testing.T) {
	cfg := &config.Config{DatabaseURL: "postgres://localhost/test"}
	primary, replica, err := openPostgres(cfg)
	require.NoError(t, err)
	assert.NotNil(t, primary)
	assert.Nil(t, replica)
}

func TestOpenPostgresOpensBothPoolsWhenReplicaConfigured(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:        "postgres://localhost/test",
		DatabaseReplicaURL: "postgres://localhost/test-replica",
	}
	primary, replica, err := openPostgres(cfg)
	require.NoError(t, err)
	assert.NotNil(t, primary)
	assert.NotNil(t, replica)
}
