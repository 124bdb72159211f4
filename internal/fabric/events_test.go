package fabric

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIngressUnknownTypeSendsError(t *testing.T) {
	h := &Hub{}
	c := newTestClient(uuid.New())

	h.handleIngress(c, ingressEnvelope{Type: "not.a.real.event"})

	msg := <-c.send
	var env egressEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "error", env.Type)
}

func TestHandleIngressInvalidPayloadSendsInvalidInputError(t *testing.T) {
	h := &Hub{}
	c := newTestClient(uuid.New())

	h.handleIngress(c, ingressEnvelope{Type: "message:send", Payload: json.RawMessage(`not-json`)})

	msg := <-c.send
	var env egressEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "error", env.Type)
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "InvalidInput", payload["code"])
}

func TestOnPresenceUpdateRejectsInvalidStatus(t *testing.T) {
	h := &Hub{}
	c := newTestClient(uuid.New())

	err := h.onPresenceUpdate(context.Background(), c, json.RawMessage(`{"status":"busy"}`))
	require.Error(t, err)
}

func TestOnTypingStartSuppressesDuplicateRelay(t *testing.T) {
	h := &Hub{typing: NewTypingTracker()}
	c := newTestClient(uuid.New())
	conv := uuid.New()
	payload := json.RawMessage(`{"convId":"` + conv.String() + `"}`)

	// h.bus is nil, so reaching emitExcluding would panic. The first
	// Start is a new occurrence and DOES relay (would panic); the
	// second Start is a repeat and must return nil without relaying.
	assert.Panics(t, func() {
		_ = h.onTyping(context.Background(), c, payload, true)
	})
	assert.NotPanics(t, func() {
		err := h.onTyping(context.Background(), c, payload, true)
		assert.NoError(t, err)
	})
}
