package fabric

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFabricLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUserRoomAndConvRoomAreNamespaced(t *testing.T) {
	u := uuid.New()
	c := uuid.New()
	assert.Equal(t, "user:"+u.String(), userRoom(u))
	assert.Equal(t, "conv:"+c.String(), convRoom(c))
	assert.NotEqual(t, userRoom(u), convRoom(c))
}

func TestDecodeObjectAcceptsJSONObject(t *testing.T) {
	obj, ok := decodeObject(json.RawMessage(`{"a":1}`))
	require.True(t, ok)
	assert.Equal(t, float64(1), obj["a"])
}

func TestDecodeObjectRejectsNonObjectJSON(t *testing.T) {
	_, ok := decodeObject(json.RawMessage(`"just a string"`))
	assert.False(t, ok)
}

func newTestClient(userID uuid.UUID) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, 4),
		rooms:  make(map[string]struct{}),
		logger: testFabricLogger(),
	}
}

func TestDispatchLocalDeliversToAllClientsInRoom(t *testing.T) {
	h := &Hub{roomClients: make(map[string]map[*Client]struct{})}
	room := "conv:test"
	a := newTestClient(uuid.New())
	b := newTestClient(uuid.New())
	h.roomClients[room] = map[*Client]struct{}{a: {}, b: {}}

	h.dispatchLocal(room, "message.new", json.RawMessage(`{"body":"hi"}`))

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Contains(t, string(msg), "message.new")
		default:
			t.Fatalf("expected client to receive a push")
		}
	}
}

func TestDispatchLocalExcludesFlaggedSender(t *testing.T) {
	h := &Hub{roomClients: make(map[string]map[*Client]struct{})}
	room := "conv:test"
	sender := newTestClient(uuid.New())
	other := newTestClient(uuid.New())
	h.roomClients[room] = map[*Client]struct{}{sender: {}, other: {}}

	payload, err := json.Marshal(map[string]any{"body": "hi", "_exclude": sender.userID.String()})
	require.NoError(t, err)

	h.dispatchLocal(room, "message.new", payload)

	select {
	case <-sender.send:
		t.Fatalf("excluded sender should not receive the push")
	default:
	}
	select {
	case <-other.send:
	default:
		t.Fatalf("expected non-excluded client to receive a push")
	}
}

func TestDispatchLocalToUnknownRoomIsNoOp(t *testing.T) {
	h := &Hub{roomClients: make(map[string]map[*Client]struct{})}
	assert.NotPanics(t, func() {
		h.dispatchLocal("conv:nothing-here", "message.new", json.RawMessage(`{}`))
	})
}
