package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
)

func registerReactionRoutes(g *gin.RouterGroup, d Deps) {
	g.POST("/messages/:messageId/reactions", func(c *gin.Context) {
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
			Emoji string `json:"emoji" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
			return
		}
		r, err := d.Messages.AddReaction(c.Request.Context(), msgID, userID, body.Emoji)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	})

	g.DELETE("/reactions/:reactionId", func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			respondError(c, apperr.New(apperr.AuthRequired, "missing user context"))
			return
		}
		reactionID, err := uuid.Parse(c.Param("reactionId"))
		if err != nil {
			respondError(c, apperr.New(apperr.InvalidInput, "invalid reaction id"))
			return
		}
		if err := d.Messages.RemoveReaction(c.Request.Context(), reactionID, userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
