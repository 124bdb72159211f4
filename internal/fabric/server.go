package fabric

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{middleware.WSSubprotocol()},
}

// ServeWS upgrades an authenticated HTTP request to a socket and hands it
// to the hub. Handshaking -> Active happens synchronously here: on
// verification failure the socket is opened just long enough to send an
// auth-fail frame before closing, since the upgrade itself must succeed
// before any application-level frame can be written.
func ServeWS(h *Hub, verifier *middleware.Verifier) gin.HandlerFunc {
	logger := slog.Default().With("component", "fabric-handshake")

	return func(c *gin.Context) {
		token, ok := middleware.ExtractWebsocketToken(c.Request)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userID, sessionID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			conn, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
			if upErr != nil {
				logger.Warn("websocket upgrade failed", "error", upErr)
				return
			}
			if frame, encErr := encodeEgress("error", map[string]string{"code": string(apperr.KindOf(err)), "message": "authentication failed"}); encErr == nil {
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
			conn.Close()
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := newClient(userID, sessionID, conn)
		h.Accept(client)
	}
}
