// Package fabric is the Connection Fabric: authenticated bidirectional
// sockets, event routing, presence and cross-node broadcast, grounded on
// the teacher's internal/websocket package (hub.go, hub_runtime.go,
// client.go, server.go) and redesigned around this core's conversation
// model instead of the teacher's friends/groups/feed model.
package fabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Logan27/1000-messenger-sub005/internal/messageservice"
	"github.com/Logan27/1000-messenger-sub005/internal/metrics"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

// RoomStore is the narrow Store capability the fabric needs on connect:
// resolving which conversation rooms a user currently belongs to.
type RoomStore interface {
	ConversationRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	UpdateUserPresence(ctx context.Context, userID uuid.UUID, presence models.Presence) error
}

// CatchUp is implemented by the delivery worker: redeliver anything still
// pending for a user the instant they reconnect, instead of waiting for
// the worker's own retryDelay-paced pending-retry pass.
type CatchUp interface {
	DeliverPendingForUser(ctx context.Context, userID uuid.UUID)
}

func userRoom(userID uuid.UUID) string { return "user:" + userID.String() }
func convRoom(convID uuid.UUID) string { return "conv:" + convID.String() }

// Hub owns local room membership and mediates every ingress/egress event.
// It implements messageservice.Broadcaster and deliveryworker.Pusher, so
// the two service packages never import this one.
type Hub struct {
	mu          sync.RWMutex
	userClients map[uuid.UUID]map[*Client]struct{}
	roomClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	bus      *Bus
	presence *PresenceTracker
	typing   *TypingTracker
	store    RoomStore
	messages *messageservice.Service
	catchUp  CatchUp

	logger *slog.Logger
}

func NewHub(bus *Bus, presence *PresenceTracker, store RoomStore, messages *messageservice.Service, catchUp CatchUp) *Hub {
	return &Hub{
		userClients: make(map[uuid.UUID]map[*Client]struct{}),
		roomClients: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		bus:         bus,
		presence:    presence,
		typing:      NewTypingTracker(),
		store:       store,
		messages:    messages,
		catchUp:     catchUp,
		logger:      slog.Default().With("component", "fabric-hub"),
	}
}

// Run drives the hub's background loops until ctx is cancelled: the
// register/unregister channel loop, the cross-node bus, and the typing
// auto-expire sweep. On cancellation every local socket is sent a
// going-away close frame ("server shutting down") before Run returns.
func (h *Hub) Run(ctx context.Context) {
	go h.bus.Run(ctx, h.dispatchLocal)
	go h.sweepTyping(ctx)

	for {
		select {
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			h.mu.RLock()
			for _, clients := range h.userClients {
				for c := range clients {
					_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
				}
			}
			h.mu.RUnlock()
			return
		case c := <-h.register:
			h.handleRegister(ctx, c)
		case c := <-h.unregister:
			h.handleUnregister(ctx, c)
		}
	}
}

// SetCatchUp wires the delivery worker after construction: the Hub and
// Worker are mutually referential (the worker pushes through the hub as
// its Pusher; the hub catches a reconnecting user up through the
// worker), so the bootstrap closes this edge last.
func (h *Hub) SetCatchUp(c CatchUp) { h.catchUp = c }

// Accept registers a freshly handshaken client and starts its pumps.
func (h *Hub) Accept(c *Client) {
	h.register <- c
	go c.writePump()
	go c.readPump(h)
}

func (h *Hub) sweepTyping(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range h.typing.sweepExpired() {
				_ = h.bus.Emit(ctx, convRoom(pair.ConvID), "typing.stop", map[string]any{
					"convId": pair.ConvID, "userId": pair.UserID,
				})
			}
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.userClients[c.userID]; !ok {
		h.userClients[c.userID] = make(map[*Client]struct{})
	}
	h.userClients[c.userID][c] = struct{}{}
	h.mu.Unlock()

	h.joinRoom(ctx, c, userRoom(c.userID))

	rooms, err := h.store.ConversationRoomIDs(ctx, c.userID)
	if err != nil {
		h.logger.Warn("failed to resolve conversation rooms on connect", "userId", c.userID, "error", err)
	}
	for _, convID := range rooms {
		h.joinRoom(ctx, c, convRoom(convID))
	}

	metrics.WSConnections.Inc()

	firstSocket, err := h.presence.RegisterSocket(ctx, c.userID, c.id)
	if err != nil {
		h.logger.Warn("presence register failed", "userId", c.userID, "error", err)
	}
	if firstSocket {
		_ = h.bus.Emit(ctx, userRoom(c.userID), "user.status", map[string]any{
			"userId": c.userID, "status": "online",
		})
	}

	c.push("connection.success", map[string]any{"userId": c.userID, "connId": c.id})

	if h.catchUp != nil {
		go h.catchUp.DeliverPendingForUser(ctx, c.userID)
	}
}

func (h *Hub) handleUnregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if conns, ok := h.userClients[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userClients, c.userID)
		}
	}
	h.mu.Unlock()

	for room := range c.rooms {
		h.leaveRoomLocked(ctx, c, room)
	}
	close(c.send)
	metrics.WSConnections.Dec()

	lastSocket, err := h.presence.UnregisterSocket(ctx, c.userID, c.id)
	if err != nil {
		h.logger.Warn("presence unregister failed", "userId", c.userID, "error", err)
		return
	}
	if lastSocket {
		_ = h.bus.Emit(ctx, userRoom(c.userID), "user.status", map[string]any{
			"userId": c.userID, "status": "offline",
		})
	}
}

func (h *Hub) joinRoom(ctx context.Context, c *Client, room string) {
	h.mu.Lock()
	if _, ok := h.roomClients[room]; !ok {
		h.roomClients[room] = make(map[*Client]struct{})
	}
	h.roomClients[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
	h.mu.Unlock()

	if err := h.bus.Join(ctx, room); err != nil {
		h.logger.Warn("bus join failed", "room", room, "error", err)
	}
}

func (h *Hub) leaveRoomLocked(ctx context.Context, c *Client, room string) {
	h.mu.Lock()
	if clients, ok := h.roomClients[room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.roomClients, room)
		}
	}
	h.mu.Unlock()

	if err := h.bus.Leave(ctx, room); err != nil {
		h.logger.Warn("bus leave failed", "room", room, "error", err)
	}
}

// dispatchLocal fans an event received from the bus out to this node's
// local sockets in room. It is the single path by which any event
// (whether it originated on this node or another) reaches a client.
func (h *Hub) dispatchLocal(room, event string, payload json.RawMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.roomClients[room]))
	for c := range h.roomClients[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var decoded any
	exclude := ""
	if obj, ok := decodeObject(payload); ok {
		if ex, ok := obj["_exclude"].(string); ok {
			exclude = ex
		}
		delete(obj, "_exclude")
		decoded = obj
	} else if err := json.Unmarshal(payload, &decoded); err != nil {
		decoded = string(payload)
	}

	for _, c := range clients {
		if exclude != "" && c.userID.String() == exclude {
			continue
		}
		c.push(event, decoded)
	}
	metrics.WSMessagesSent.WithLabelValues(event).Inc()
}

// --- messageservice.Broadcaster ------------------------------------------

func (h *Hub) BroadcastToConversation(ctx context.Context, convID uuid.UUID, event string, payload any) {
	if err := h.bus.Emit(ctx, convRoom(convID), event, payload); err != nil {
		h.logger.Warn("broadcast to conversation failed", "convId", convID, "event", event, "error", err)
	}
}

func (h *Hub) BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, payload any) {
	if err := h.bus.Emit(ctx, userRoom(userID), event, payload); err != nil {
		h.logger.Warn("broadcast to user failed", "userId", userID, "event", event, "error", err)
	}
}

// --- deliveryworker.Pusher -------------------------------------------------

// PushToUser reports a recipient online (and publishes the push) only
// when the presence tracker shows a live socket somewhere in the cluster;
// a false return leaves the delivery worker free to retry later.
func (h *Hub) PushToUser(ctx context.Context, userID uuid.UUID, event string, payload any) (bool, error) {
	online, err := h.presence.IsOnline(ctx, userID)
	if err != nil {
		return false, err
	}
	if !online {
		return false, nil
	}
	if err := h.bus.Emit(ctx, userRoom(userID), event, payload); err != nil {
		return false, err
	}
	return true, nil
}

func decodeObject(payload json.RawMessage) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, false
	}
	return obj, true
}
