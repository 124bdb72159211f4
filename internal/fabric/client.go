package fabric

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second
	maxFrameSize = 1 << 20 // 1 MiB
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Client is one Active socket: a single browser tab or device connection.
// A user may hold several Clients at once, one per node or per tab.
type Client struct {
	id        string
	userID    uuid.UUID
	sessionID uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	rooms     map[string]struct{}

	mu       sync.RWMutex
	lastSeen time.Time

	logger *slog.Logger
}

func newClient(userID, sessionID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		id:        uuid.NewString(),
		userID:    userID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		rooms:     make(map[string]struct{}),
		lastSeen:  time.Now(),
		logger:    slog.Default().With("component", "fabric-client", "userId", userID),
	}
}

func (c *Client) setLastSeen(t time.Time) {
	c.mu.Lock()
	c.lastSeen = t
	c.mu.Unlock()
}

// ingressEnvelope mirrors the client->server event shape: a type tag plus
// an opaque payload decoded per type.
type ingressEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// egressEnvelope mirrors the server->client event shape pushed over send.
type egressEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func encodeEgress(event string, payload any) ([]byte, error) {
	return json.Marshal(egressEnvelope{Type: event, Payload: payload})
}

// readPump pumps ingress frames to h, and is the socket's sole reader.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.setLastSeen(time.Now())
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var env ingressEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("invalid_envelope", "message is not a valid event envelope")
			continue
		}
		h.handleIngress(c, env)
	}
}

// writePump pumps egress frames from send to the socket, and owns the
// ping ticker.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) push(event string, payload any) {
	body, err := encodeEgress(event, payload)
	if err != nil {
		c.logger.Warn("failed to encode egress event", "event", event, "error", err)
		return
	}
	select {
	case c.send <- body:
	default:
		c.logger.Warn("client send buffer full, dropping slow consumer", "event", event)
	}
}

func (c *Client) sendError(code, message string) {
	c.push("error", map[string]string{"code": code, "message": message})
}
