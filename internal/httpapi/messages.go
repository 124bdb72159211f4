package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/messageservice"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

func registerMessageRoutes(g *gin.RouterGroup, d Deps) {
	g.GET("/conversations/:convId/messages", func(c *gin.Context) {
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

		limit := 50
		var cursor *time.Time
		if cs := c.Query("cursor"); cs != "" {
			t, err := time.Parse(time.RFC3339Nano, cs)
			if err != nil {
				respondError(c, apperr.New(apperr.InvalidInput, "invalid cursor"))
				return
			}
			cursor = &t
		}

		msgs, next, err := d.Store.ListMessages(c.Request.Context(), convID, userID, limit, cursor)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{"messages": msgs}
		if next != nil {
			resp["nextCursor"] = next.Format(time.RFC3339Nano)
		}
		c.JSON(http.StatusOK, resp)
	})

	g.POST("/conversations/:convId/messages", func(c *gin.Context) {
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

		var body struct {
			Content  string          `json:"content" binding:"required"`
			Kind     models.MessageKind `json:"kind"`
			Metadata models.Metadata `json:"metadata"`
			ReplyTo  *uuid.UUID      `json:"replyToId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}

		msg, err := d.Messages.SendMessage(c.Request.Context(), messageservice.SendMessageInput{
			ConvID: convID, SenderID: userID, Body: body.Content,
			Kind: body.Kind, Metadata: body.Metadata, ReplyTo: body.ReplyTo,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	})

	g.GET("/conversations/:convId/messages/search", middleware.ActionRateLimit(d.RateLimitCounters, middleware.SearchLimit), func(c *gin.Context) {
		convID, err := uuid.Parse(c.Param("convId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid conversation id"))
			return
		}
		q := c.Query("q")
		if q == "" {
			respondError(c, apperr.New(apperr.InvalidInput, "query parameter q is required"))
			return
		}
		msgs, err := d.Store.SearchMessages(c.Request.Context(), convID, q, 50)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	})

	g.PATCH("/messages/:messageId", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		msgID, err := uuid.Parse(c.Param("messageId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid message id"))
			return
		}
		var body struct {
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}
		msg, err := d.Messages.EditMessage(c.Request.Context(), msgID, userID, body.Content)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	g.DELETE("/messages/:messageId", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		msgID, err := uuid.Parse(c.Param("messageId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid message id"))
			return
		}
		if err := d.Messages.DeleteMessage(c.Request.Context(), msgID, userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/messages/:messageId/read", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		msgID, err := uuid.Parse(c.Param("messageId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid message id"))
			return
		}
		if err := d.Messages.MarkRead(c.Request.Context(), msgID, userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
