package fabric

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSocketSetKeyIsPerUser(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	assert.NotEqual(t, socketSetKey(a), socketSetKey(b))
	assert.Contains(t, socketSetKey(a), a.String())
}

func TestDeclaredStatusKeyIsDistinctFromSocketSetKey(t *testing.T) {
	u := uuid.New()
	assert.NotEqual(t, socketSetKey(u), declaredStatusKey(u))
}

func TestItoaScoreIsUnixSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	assert.Equal(t, "1700000000", itoaScore(ts))
}
