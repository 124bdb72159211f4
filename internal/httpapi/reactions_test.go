package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
)

func reactionRouter(t *testing.T, userID uuid.UUID, injectUser bool) *gin.Engine {
	t.Helper()
	r := gin.New()
	g := r.Group("/api/v1")
	if injectUser {
		g.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserIDKey, userID)
			c.Next()
		})
	}
	registerReactionRoutes(g, Deps{})
	return r
}

func TestAddReactionRequiresAuth(t *testing.T) {
	r := reactionRouter(t, uuid.UUID{}, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/"+uuid.New().String()+"/reactions", bytes.NewBufferString(`{"emoji":"👍"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.AuthRequired), w.Code)
}

func TestAddReactionRejectsMalformedMessageID(t *testing.T) {
	r := reactionRouter(t, uuid.New(), true)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/not-a-uuid/reactions", bytes.NewBufferString(`{"emoji":"👍"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.InvalidInput), w.Code)
}

func TestAddReactionRejectsMissingEmoji(t *testing.T) {
	r := reactionRouter(t, uuid.New(), true)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/"+uuid.New().String()+"/reactions", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.InvalidInput), w.Code)
}

func TestRemoveReactionRequiresAuth(t *testing.T) {
	r := reactionRouter(t, uuid.UUID{}, false)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reactions/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.AuthRequired), w.Code)
}

func TestRemoveReactionRejectsMalformedReactionID(t *testing.T) {
	r := reactionRouter(t, uuid.New(), true)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reactions/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.InvalidInput), w.Code)
}
