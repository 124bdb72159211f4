// Package store is the durable, authoritative state for the conversation,
// message, delivery and participant entities in the data model: the only
// component that writes those tables (the sessions table is written by
// the session package). Its public surface is expressed as logical
// intents rather than SQL, so the message service, delivery worker and
// connection fabric depend only on this interface.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

// Store is implemented by *Postgres. It is the seam the message service
// and delivery worker depend on, so both are testable against a fake.
type Store interface {
	CreateMessage(ctx context.Context, convID, senderID uuid.UUID, body string, kind models.MessageKind, meta models.Metadata, replyTo *uuid.UUID) (*models.Message, error)
	ListMessages(ctx context.Context, convID, viewerID uuid.UUID, limit int, cursor *time.Time) ([]models.Message, *time.Time, error)
	EditMessage(ctx context.Context, msgID, editorID uuid.UUID, newBody string) (*models.Message, error)
	SoftDeleteMessage(ctx context.Context, msgID, actorID uuid.UUID) error
	GetMessage(ctx context.Context, msgID uuid.UUID) (*models.Message, error)

	TransitionDelivery(ctx context.Context, msgID, recipientID uuid.UUID, target models.DeliveryStatus) error
	GetDeliveryRecord(ctx context.Context, msgID, recipientID uuid.UUID) (*models.DeliveryRecord, error)
	// PendingDeliveries returns recipientID's DeliveryRecords still at
	// status=sent, newest first, bounded by limit. The fabric uses this
	// to catch a reconnecting user up immediately rather than waiting for
	// the delivery worker's retryDelay.
	PendingDeliveries(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DeliveryRecord, error)

	AddReaction(ctx context.Context, msgID, userID uuid.UUID, emoji string) (*models.Reaction, error)
	RemoveReaction(ctx context.Context, reactionID uuid.UUID, userID uuid.UUID) (*models.Reaction, error)

	UpsertParticipant(ctx context.Context, convID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error)
	MarkLeft(ctx context.Context, convID, userID uuid.UUID) error
	CountActiveParticipants(ctx context.Context, convID uuid.UUID) (int, error)
	ActiveParticipantIDs(ctx context.Context, convID uuid.UUID) ([]uuid.UUID, error)
	IsActiveParticipant(ctx context.Context, convID, userID uuid.UUID) (bool, error)

	FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	CreateDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	CreateGroupConversation(ctx context.Context, ownerID uuid.UUID, name string, memberIDs []uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, convID uuid.UUID) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	ConversationRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	ResetUnread(ctx context.Context, convID, userID uuid.UUID) error

	SearchMessages(ctx context.Context, convID uuid.UUID, query string, limit int) ([]models.Message, error)

	UpdateUserPresence(ctx context.Context, userID uuid.UUID, presence models.Presence) error

	HealthCheck(ctx context.Context) error
	ReplicaLag(ctx context.Context) (time.Duration, error)
}
