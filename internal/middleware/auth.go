// Package middleware holds the gin/websocket cross-cutting concerns:
// JWT authentication (HTTP and socket handshake) and rate limiting —
// grounded on the teacher's shared-entity middleware package
// and adapted to this core's Session Service.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/session"
)

const (
	ContextUserIDKey    = "userID"
	ContextSessionIDKey = "sessionID"

	wsSubprotocol = "messenger.auth"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Verifier validates an access token's signature/expiry and checks
// session liveness; RequireAuth and the fabric handshake both depend
// only on this.
type Verifier struct {
	secret   string
	sessions *session.Service
}

func NewVerifier(secret string, sessions *session.Service) *Verifier {
	return &Verifier{secret: secret, sessions: sessions}
}

func (v *Verifier) Verify(ctx context.Context, token string) (userID, sessionID uuid.UUID, err error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(v.secret), nil
	})
	if err != nil || !parsed.Valid {
		return uuid.UUID{}, uuid.UUID{}, apperr.Wrap(apperr.AuthInvalid, "invalid access token", err)
	}

	userID, err = uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, apperr.Wrap(apperr.AuthInvalid, "invalid user id in token", err)
	}
	sessionID, err = uuid.Parse(claims.SessionID)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, apperr.Wrap(apperr.AuthInvalid, "invalid session id in token", err)
	}

	if err := v.sessions.Validate(ctx, sessionID, userID); err != nil {
		return uuid.UUID{}, uuid.UUID{}, err
	}
	return userID, sessionID, nil
}

// RequireAuth is the gin middleware for the HTTP surface: it expects
// "Authorization: Bearer <token>".
func RequireAuth(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(c, apperr.New(apperr.AuthRequired, "missing bearer token"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		userID, sessionID, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextSessionIDKey, sessionID)
		c.Next()
	}
}

func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), apperr.ToEnvelope(err))
}

// ExtractWebsocketToken pulls the handshake credential from the
// Sec-WebSocket-Protocol header, matching the browser-safe convention
// the client must use since arbitrary headers cannot be set on the
// WebSocket upgrade request. The sub-protocol value itself is echoed
// back by the server so the browser API accepts the connection.
func ExtractWebsocketToken(r *http.Request) (string, bool) {
	protoHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protoHeader == "" {
		return "", false
	}
	parts := strings.Split(protoHeader, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	for i, p := range parts {
		if p == wsSubprotocol && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	// Fall back to treating the second protocol entry as the token when
	// only two entries are present (subprotocol, token).
	if len(parts) == 2 && parts[0] == wsSubprotocol {
		return parts[1], true
	}
	return "", false
}

func WSSubprotocol() string { return wsSubprotocol }
