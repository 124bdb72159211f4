// Package messageservice is the transaction-of-record boundary for
// message authorship: it owns sendMessage's five-step contract and the
// thin edit/delete/react wrappers that mutate through the Store and
// broadcast directly through the fabric rather than the delivery log.
package messageservice

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/deliverylog"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
	"github.com/Logan27/1000-messenger-sub005/internal/store"
)

// Broadcaster is the fabric capability the service needs for direct
// convenience events (edit/delete/react); it never carries required
// delivery semantics.
type Broadcaster interface {
	BroadcastToConversation(ctx context.Context, convID uuid.UUID, event string, payload any)
	BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, payload any)
}

type SendMessageInput struct {
	ConvID   uuid.UUID
	SenderID uuid.UUID
	Body     string
	Kind     models.MessageKind
	Metadata models.Metadata
	ReplyTo  *uuid.UUID
}

type Service struct {
	store       store.Store
	log         *deliverylog.Log
	broadcaster Broadcaster
	logger      *slog.Logger
}

func New(st store.Store, log *deliverylog.Log, broadcaster Broadcaster) *Service {
	return &Service{store: st, log: log, broadcaster: broadcaster, logger: slog.Default().With("component", "message-service")}
}

// SetBroadcaster wires the broadcaster after construction, for the one
// case where it isn't available yet: the fabric Hub and the Service are
// mutually referential (the hub routes ingress through the service; the
// service broadcasts through the hub), so the bootstrap wires this edge
// last.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SendMessage authorizes, persists and enqueues for fan-out. A failure
// to enqueue after a successful persist is logged at WARN and returned
// as success: the Store is authoritative, so recipients still see the
// message on their next chat-list refresh even without a push.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	if len(in.Body) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "body must not be empty")
	}
	if utf8.RuneCountInString(in.Body) > models.MaxMessageBodyLen {
		return nil, apperr.New(apperr.PayloadTooLarge, "body exceeds maximum length")
	}
	if in.Kind == "" {
		in.Kind = models.MessageText
	}

	msg, err := s.store.CreateMessage(ctx, in.ConvID, in.SenderID, in.Body, in.Kind, in.Metadata, in.ReplyTo)
	if err != nil {
		return nil, err
	}

	recipients, err := s.store.ActiveParticipantIDs(ctx, in.ConvID)
	if err != nil {
		s.logger.Warn("failed to resolve recipients after persist; message remains correct but undelivered until catch-up",
			"messageId", msg.ID, "error", err)
		return msg, nil
	}
	recipients = excludeSender(recipients, in.SenderID)
	if len(recipients) == 0 {
		return msg, nil
	}

	job := models.DeliveryJob{
		MessageID:  msg.ID,
		ConvID:     in.ConvID,
		Recipients: recipients,
		Attempts:   0,
		EnqueuedAt: time.Now(),
	}
	if _, err := s.log.Append(ctx, deliverylog.DeliveryStreamKey, job); err != nil {
		s.logger.Warn("failed to enqueue delivery job after successful persist; recipients will catch up on next chat-list refresh",
			"messageId", msg.ID, "error", err)
	}

	return msg, nil
}

func excludeSender(ids []uuid.UUID, sender uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != sender {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) EditMessage(ctx context.Context, msgID, editorID uuid.UUID, newBody string) (*models.Message, error) {
	msg, err := s.store.EditMessage(ctx, msgID, editorID, newBody)
	if err != nil {
		return nil, err
	}
	s.broadcaster.BroadcastToConversation(ctx, msg.ConvID, "message.edited", msg)
	return msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, msgID, actorID uuid.UUID) error {
	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteMessage(ctx, msgID, actorID); err != nil {
		return err
	}
	s.broadcaster.BroadcastToConversation(ctx, msg.ConvID, "message.deleted", map[string]any{"messageId": msgID})
	return nil
}

func (s *Service) MarkRead(ctx context.Context, msgID, readerID uuid.UUID) error {
	msg, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}
	if err := s.store.TransitionDelivery(ctx, msgID, readerID, models.DeliveryRead); err != nil {
		return err
	}
	payload := map[string]any{"messageId": msgID, "readerId": readerID}
	s.broadcaster.BroadcastToConversation(ctx, msg.ConvID, "message.read", payload)
	if msg.SenderID != nil && *msg.SenderID != readerID {
		s.broadcaster.BroadcastToUser(ctx, *msg.SenderID, "message.read", payload)
	}
	return nil
}

func (s *Service) AddReaction(ctx context.Context, msgID, userID uuid.UUID, emoji string) (*models.Reaction, error) {
	r, err := s.store.AddReaction(ctx, msgID, userID, emoji)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, msgID)
	if err == nil {
		s.broadcaster.BroadcastToConversation(ctx, msg.ConvID, "reaction.added", r)
	}
	return r, nil
}

func (s *Service) RemoveReaction(ctx context.Context, reactionID, userID uuid.UUID) error {
	r, err := s.store.RemoveReaction(ctx, reactionID, userID)
	if err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, r.MessageID)
	if err == nil {
		s.broadcaster.BroadcastToConversation(ctx, msg.ConvID, "reaction.removed", map[string]any{"reactionId": reactionID})
	}
	return nil
}
