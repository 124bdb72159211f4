package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashFingerprintIsDeterministic(t *testing.T) {
	a := hashFingerprint("device-abc")
	b := hashFingerprint("device-abc")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "blake2b-256 hex encodes to 64 characters")
}

func TestHashFingerprintDistinguishesInputs(t *testing.T) {
	a := hashFingerprint("device-abc")
	b := hashFingerprint("device-xyz")
	assert.NotEqual(t, a, b)
}

func TestHashFingerprintNeverStoresRawValue(t *testing.T) {
	raw := "super-identifying-browser-string"
	hashed := hashFingerprint(raw)
	assert.NotContains(t, hashed, raw)
}
