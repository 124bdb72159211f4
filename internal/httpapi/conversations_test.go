package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
	"github.com/Logan27/1000-messenger-sub005/internal/store"
)

// fakeConvStore implements store.Store; embedding the interface lets each
// test override only the methods it exercises, panicking on the rest.
type fakeConvStore struct {
	store.Store
	getUserConversations   func(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	findDirectConversation func(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	createDirectConversation func(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	createGroupConversation func(ctx context.Context, ownerID uuid.UUID, name string, memberIDs []uuid.UUID) (*models.Conversation, error)
	upsertParticipant func(ctx context.Context, convID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error)
	markLeft          func(ctx context.Context, convID, userID uuid.UUID) error
	resetUnread       func(ctx context.Context, convID, userID uuid.UUID) error
}

func (f *fakeConvStore) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	return f.getUserConversations(ctx, userID)
}
func (f *fakeConvStore) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	return f.findDirectConversation(ctx, a, b)
}
func (f *fakeConvStore) CreateDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	return f.createDirectConversation(ctx, a, b)
}
func (f *fakeConvStore) CreateGroupConversation(ctx context.Context, ownerID uuid.UUID, name string, memberIDs []uuid.UUID) (*models.Conversation, error) {
	return f.createGroupConversation(ctx, ownerID, name, memberIDs)
}
func (f *fakeConvStore) UpsertParticipant(ctx context.Context, convID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error) {
	return f.upsertParticipant(ctx, convID, userID, role)
}
func (f *fakeConvStore) MarkLeft(ctx context.Context, convID, userID uuid.UUID) error {
	return f.markLeft(ctx, convID, userID)
}
func (f *fakeConvStore) ResetUnread(ctx context.Context, convID, userID uuid.UUID) error {
	return f.resetUnread(ctx, convID, userID)
}

// withUser builds a gin.Engine with registerConversationRoutes mounted,
// injecting userID into context the way middleware.RequireAuth would
// (bypassed here so the handler is exercised in isolation).
func withUser(t *testing.T, d Deps, userID uuid.UUID, injectUser bool) *gin.Engine {
	t.Helper()
	r := gin.New()
	g := r.Group("/api/v1")
	if injectUser {
		g.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserIDKey, userID)
			c.Next()
		})
	}
	registerConversationRoutes(g, d)
	return r
}

func TestGetConversationsRequiresAuth(t *testing.T) {
	r := withUser(t, Deps{}, uuid.UUID{}, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, apperr.HTTPStatus(apperr.AuthRequired), w.Code)
}

func TestGetConversationsReturnsStoreSummaries(t *testing.T) {
	userID := uuid.New()
	fs := &fakeConvStore{getUserConversations: func(ctx context.Context, u uuid.UUID) ([]models.ConversationSummary, error) {
		assert.Equal(t, userID, u)
		return []models.ConversationSummary{{Conversation: models.Conversation{ID: uuid.New()}}}, nil
	}}
	r := withUser(t, Deps{Store: fs}, userID, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateDirectConversationReturnsExistingWhenFound(t *testing.T) {
	userID, peerID := uuid.New(), uuid.New()
	existing := &models.Conversation{ID: uuid.New()}
	fs := &fakeConvStore{
		findDirectConversation: func(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
			return existing, nil
		},
	}
	r := withUser(t, Deps{Store: fs}, userID, true)

	body := bytes.NewBufferString(`{"peerId":"` + peerID.String() + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateDirectConversationCreatesWhenNotFound(t *testing.T) {
	userID, peerID := uuid.New(), uuid.New()
	created := &models.Conversation{ID: uuid.New()}
	fs := &fakeConvStore{
		findDirectConversation: func(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
			return nil, apperr.New(apperr.NotFound, "no direct conversation")
		},
		createDirectConversation: func(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
			return created, nil
		},
	}
	r := withUser(t, Deps{Store: fs}, userID, true)

	body := bytes.NewBufferString(`{"peerId":"` + peerID.String() + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateDirectConversationRejectsMissingPeerID(t *testing.T) {
	r := withUser(t, Deps{Store: &fakeConvStore{}}, uuid.New(), true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/direct", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, apperr.HTTPStatus(apperr.InvalidInput), w.Code)
}

func TestGetConversationByIDRejectsMalformedUUID(t *testing.T) {
	r := withUser(t, Deps{Store: &fakeConvStore{}}, uuid.New(), true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, apperr.HTTPStatus(apperr.InvalidInput), w.Code)
}

func TestRemoveParticipantSucceeds(t *testing.T) {
	convID, memberID := uuid.New(), uuid.New()
	fs := &fakeConvStore{markLeft: func(ctx context.Context, c, u uuid.UUID) error {
		assert.Equal(t, convID, c)
		assert.Equal(t, memberID, u)
		return nil
	}}
	r := withUser(t, Deps{Store: fs}, uuid.New(), true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/"+convID.String()+"/participants/"+memberID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMarkConversationReadSucceeds(t *testing.T) {
	userID, convID := uuid.New(), uuid.New()
	fs := &fakeConvStore{resetUnread: func(ctx context.Context, c, u uuid.UUID) error {
		assert.Equal(t, convID, c)
		assert.Equal(t, userID, u)
		return nil
	}}
	r := withUser(t, Deps{Store: fs}, userID, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/read", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
