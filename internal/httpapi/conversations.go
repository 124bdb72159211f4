package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

func registerConversationRoutes(g *gin.RouterGroup, d Deps) {
	g.GET("/conversations", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		summaries, err := d.Store.GetUserConversations(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": summaries})
	})

	g.POST("/conversations/direct", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		var body struct {
			PeerID uuid.UUID `json:"peerId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}

		conv, err := d.Store.FindDirectConversation(c.Request.Context(), userID, body.PeerID)
		if err == nil {
			c.JSON(http.StatusOK, conv)
			return
		}
		if apperr.KindOf(err) != apperr.NotFound {
			respondError(c, err)
			return
		}
		conv, err = d.Store.CreateDirectConversation(c.Request.Context(), userID, body.PeerID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	})

	g.POST("/conversations/group", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		var body struct {
			Name      string      `json:"name" binding:"required"`
			MemberIDs []uuid.UUID `json:"memberIds"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}
		conv, err := d.Store.CreateGroupConversation(c.Request.Context(), userID, body.Name, body.MemberIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	})

	g.GET("/conversations/:convId", func(c *gin.Context) {
		convID, err := uuid.Parse(c.Param("convId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid conversation id"))
			return
		}
		conv, err := d.Store.GetConversation(c.Request.Context(), convID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	})

	g.POST("/conversations/:convId/participants", func(c *gin.Context) {
		convID, err := uuid.Parse(c.Param("convId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid conversation id"))
			return
		}
		var body struct {
			UserID uuid.UUID `json:"userId" binding:"required"`
			Role   string    `json:"role"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}
		role := body.Role
		if role == "" {
			role = "member"
		}
		p, err := d.Store.UpsertParticipant(c.Request.Context(), convID, body.UserID, models.ParticipantRole(role))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	g.DELETE("/conversations/:convId/participants/:userId", func(c *gin.Context) {
		convID, err := uuid.Parse(c.Param("convId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid conversation id"))
			return
		}
		memberID, err := uuid.Parse(c.Param("userId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid user id"))
			return
		}
		if err := d.Store.MarkLeft(c.Request.Context(), convID, memberID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/conversations/:convId/read", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		convID, err := uuid.Parse(c.Param("convId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid conversation id"))
			return
		}
		if err := d.Store.ResetUnread(c.Request.Context(), convID, userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

