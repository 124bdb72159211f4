package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
)

// registerSessionRoutes exposes the Session Service's per-device
// bookkeeping (create/list/invalidate). Credential issuance (login) is
// out of this core's scope (spec.md places password auth out of scope);
// these routes assume the caller already holds a valid access token and
// are used for device management and logout.
func registerSessionRoutes(g *gin.RouterGroup, d Deps) {
	g.POST("/sessions", middleware.ActionRateLimit(d.RateLimitCounters, middleware.LoginLimit), func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		var body struct {
			DeviceFingerprint string `json:"deviceFingerprint" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}

		sess, err := d.Sessions.Create(c.Request.Context(), userID, body.DeviceFingerprint, d.Config.RefreshTokenTTL)
		if err != nil {
			respondError(c, err)
			return
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(d.Config.AccessTokenTTL)),
			},
			UserID:    userID.String(),
			SessionID: sess.ID.String(),
		})
		signed, err := token.SignedString([]byte(d.Config.JWTSecret))
		if err != nil {
			respondError(c, apperr.Wrap(apperr.Internal, "sign access token", err))
			return
		}

		c.JSON(http.StatusCreated, gin.H{"session": sess, "accessToken": signed})
	})

	g.GET("/sessions", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		sessions, err := d.Sessions.ActiveSessionsFor(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	g.DELETE("/sessions/:sessionId", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("sessionId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid session id"))
			return
		}
		if err := d.Sessions.Invalidate(c.Request.Context(), sessionID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/sessions", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		if err := d.Sessions.InvalidateAll(c.Request.Context(), userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
