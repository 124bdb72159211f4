package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestReadDBFallsBackToPrimaryWhenNoReplicaConfigured(t *testing.T) {
	primary, err := sql.Open("postgres", "")
	assert.NoError(t, err)
	defer primary.Close()

	p := NewPostgres(primary, nil)
	assert.Same(t, primary, p.readDB(context.Background()))
}

func TestIsUniqueViolationMatchesSQLState23505(t *testing.T) {
	err := &pq.Error{Code: "23505"}
	assert.True(t, isUniqueViolation(err))
}

func TestIsUniqueViolationRejectsOtherCodes(t *testing.T) {
	err := &pq.Error{Code: "23503"}
	assert.False(t, isUniqueViolation(err))
}

func TestIsUniqueViolationRejectsNonPQErrors(t *testing.T) {
	assert.False(t, isUniqueViolation(assertPlainErr{}))
}

type assertPlainErr struct{}

func (assertPlainErr) Error() string { return "generic failure" }
