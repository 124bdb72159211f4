// Package models holds the plain data structs shared across the store,
// message service, delivery worker and connection fabric. None of these
// types carry behavior beyond small invariant helpers; persistence and
// transport concerns live in their owning packages.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

const MaxGroupParticipants = 300

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

const MaxMessageBodyLen = 10000

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// rank gives the total order sent < delivered < read used by transitionDelivery.
func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryDelivered:
		return 1
	case DeliveryRead:
		return 2
	default:
		return 0
	}
}

// Reached reports whether s has progressed at least as far as target.
func (s DeliveryStatus) Reached(target DeliveryStatus) bool {
	return s.rank() >= target.rank()
}

// Metadata is an opaque map of string to JSON value; the store never
// interprets its contents.
type Metadata map[string]any

type User struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	AvatarRef   string
	Presence    Presence
	LastSeen    time.Time
	CreatedAt   time.Time
}

type Conversation struct {
	ID            uuid.UUID
	Kind          ConversationKind
	Name          *string
	Slug          *string
	OwnerID       *uuid.UUID
	CreatedAt     time.Time
	LastMessageAt time.Time
	DeletedAt     *time.Time
}

func (c *Conversation) Deleted() bool { return c.DeletedAt != nil }

type Participant struct {
	ConversationID   uuid.UUID
	UserID           uuid.UUID
	Role             ParticipantRole
	JoinedAt         time.Time
	LeftAt           *time.Time
	LastReadMessage  *uuid.UUID
	UnreadCount      int
}

func (p *Participant) Active() bool { return p.LeftAt == nil }

type Message struct {
	ID        uuid.UUID   `json:"id"`
	ConvID    uuid.UUID   `json:"convId"`
	SenderID  *uuid.UUID  `json:"senderId,omitempty"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	Metadata  Metadata    `json:"metadata,omitempty"`
	ReplyTo   *uuid.UUID  `json:"replyToId,omitempty"`
	Edited    bool        `json:"edited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	Deleted   bool        `json:"deleted"`
	DeletedAt *time.Time  `json:"deletedAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

const deletedPlaceholder = "[message deleted]"

// VisibleBody returns the placeholder for soft-deleted messages and the
// real body otherwise; callers reading for display should always go
// through this rather than the raw field.
func (m *Message) VisibleBody() string {
	if m.Deleted {
		return deletedPlaceholder
	}
	return m.Body
}

// messageDTO mirrors Message's JSON shape but lets MarshalJSON substitute
// VisibleBody() for the raw Body field, so every egress path (REST
// responses, fabric broadcasts and pushes) serializes the placeholder for
// a soft-deleted message without each caller having to remember to.
type messageDTO Message

func (m Message) MarshalJSON() ([]byte, error) {
	dto := messageDTO(m)
	dto.Body = m.VisibleBody()
	return json.Marshal(dto)
}

type EditHistoryEntry struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	PriorBody  string
	PriorMeta  Metadata
	EditedAt   time.Time
}

type Reaction struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	UserID    uuid.UUID
	Emoji     string
	CreatedAt time.Time
}

type DeliveryRecord struct {
	MessageID   uuid.UUID
	RecipientID uuid.UUID
	Status      DeliveryStatus
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
}

type UnreadIndexEntry struct {
	UserID    uuid.UUID
	ConvID    uuid.UUID
	MessageID uuid.UUID
}

type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	DeviceFP       string
	SocketID       *string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Active         bool
}

func (s *Session) LoggedIn(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// ConversationSummary is the getUserConversations projection: a
// conversation joined with the viewer's unread count and a last-message
// digest, sized for a chat list view.
type ConversationSummary struct {
	Conversation         Conversation
	UnreadCount          int
	LastMessageBody      string
	LastMessageSenderID  *uuid.UUID
	LastMessageCreatedAt *time.Time
}

// DeliveryJob is the payload appended to the delivery stream by the
// Message Service and consumed by the Delivery Worker.
type DeliveryJob struct {
	MessageID  uuid.UUID   `json:"messageId"`
	ConvID     uuid.UUID   `json:"convId"`
	Recipients []uuid.UUID `json:"recipients"`
	Attempts   int         `json:"attempts"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// DeadLetterEntry wraps a terminally-failed DeliveryJob for operator
// inspection.
type DeadLetterEntry struct {
	Job      DeliveryJob `json:"job"`
	FailedAt time.Time   `json:"failedAt"`
	Reason   string      `json:"reason"`
}
