package fabric

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEgressWrapsTypeAndPayload(t *testing.T) {
	body, err := encodeEgress("message.new", map[string]string{"body": "hi"})
	require.NoError(t, err)

	var decoded egressEnvelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "message.new", decoded.Type)
}

func TestClientPushEnqueuesEncodedFrame(t *testing.T) {
	c := newTestClient(uuid.New())
	c.logger = testFabricLogger()

	c.push("typing.start", map[string]any{"convId": "abc"})

	select {
	case msg := <-c.send:
		var env egressEnvelope
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, "typing.start", env.Type)
	default:
		t.Fatalf("expected a frame on the send channel")
	}
}

func TestClientPushDropsWhenSendBufferFull(t *testing.T) {
	c := newTestClient(uuid.New())
	c.logger = testFabricLogger()
	c.send = make(chan []byte, 1)
	c.send <- []byte("occupied")

	assert.NotPanics(t, func() {
		c.push("typing.start", map[string]any{})
	})
	assert.Len(t, c.send, 1)
}

func TestClientSendErrorPushesErrorEnvelope(t *testing.T) {
	c := newTestClient(uuid.New())
	c.logger = testFabricLogger()

	c.sendError("bad_request", "nope")

	msg := <-c.send
	var env egressEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "error", env.Type)
}
