package fabric

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/messageservice"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

// handleIngress dispatches one decoded client->server event. Every branch
// is independent and a failure in one never tears down the socket; it is
// reported back to the sender as an "error" egress event.
func (h *Hub) handleIngress(c *Client, env ingressEnvelope) {
	ctx := context.Background()
	c.setLastSeen(time.Now())

	var err error
	switch env.Type {
	case "message:send":
		err = h.onMessageSend(ctx, c, env.Payload)
	case "message:edit":
		err = h.onMessageEdit(ctx, c, env.Payload)
	case "message:delete":
		err = h.onMessageDelete(ctx, c, env.Payload)
	case "message:mark-read":
		err = h.onMessageMarkRead(ctx, c, env.Payload)
	case "reaction:add":
		err = h.onReactionAdd(ctx, c, env.Payload)
	case "reaction:remove":
		err = h.onReactionRemove(ctx, c, env.Payload)
	case "typing:start":
		err = h.onTyping(ctx, c, env.Payload, true)
	case "typing:stop":
		err = h.onTyping(ctx, c, env.Payload, false)
	case "presence:update":
		err = h.onPresenceUpdate(ctx, c, env.Payload)
	case "presence:heartbeat":
		err = h.presence.Heartbeat(ctx, c.userID, c.id)
	default:
		c.sendError("unknown_event", "unrecognized event type: "+env.Type)
		return
	}
	if err != nil {
		ae := apperr.KindOf(err)
		c.sendError(string(ae), err.Error())
	}
}

func (h *Hub) onMessageSend(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		ConvID   uuid.UUID         `json:"convId"`
		Content  string            `json:"content"`
		Kind     models.MessageKind `json:"kind"`
		Metadata models.Metadata   `json:"metadata"`
		ReplyTo  *uuid.UUID        `json:"replyToId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid message:send payload", err)
	}
	msg, err := h.messages.SendMessage(ctx, messageservice.SendMessageInput{
		ConvID: in.ConvID, SenderID: c.userID, Body: in.Content,
		Kind: in.Kind, Metadata: in.Metadata, ReplyTo: in.ReplyTo,
	})
	if err != nil {
		return err
	}
	c.push("message:sent", msg)
	return nil
}

func (h *Hub) onMessageEdit(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		MessageID uuid.UUID `json:"messageId"`
		Content   string    `json:"content"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid message:edit payload", err)
	}
	_, err := h.messages.EditMessage(ctx, in.MessageID, c.userID, in.Content)
	return err
}

func (h *Hub) onMessageDelete(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		MessageID uuid.UUID `json:"messageId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid message:delete payload", err)
	}
	return h.messages.DeleteMessage(ctx, in.MessageID, c.userID)
}

func (h *Hub) onMessageMarkRead(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		MessageID uuid.UUID `json:"messageId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid message:mark-read payload", err)
	}
	return h.messages.MarkRead(ctx, in.MessageID, c.userID)
}

func (h *Hub) onReactionAdd(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		MessageID uuid.UUID `json:"messageId"`
		Emoji     string    `json:"emoji"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid reaction:add payload", err)
	}
	_, err := h.messages.AddReaction(ctx, in.MessageID, c.userID, in.Emoji)
	return err
}

func (h *Hub) onReactionRemove(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		ReactionID uuid.UUID `json:"reactionId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid reaction:remove payload", err)
	}
	return h.messages.RemoveReaction(ctx, in.ReactionID, c.userID)
}

// onTyping never persists anything: it only touches the in-process
// TypingTracker and relays to the conversation room, excluding the typer.
func (h *Hub) onTyping(ctx context.Context, c *Client, payload json.RawMessage, starting bool) error {
	var in struct {
		ConvID uuid.UUID `json:"convId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid typing payload", err)
	}

	event := "typing.stop"
	if starting {
		if !h.typing.Start(in.ConvID, c.userID) {
			return nil // already typing, nothing new to relay
		}
		event = "typing.start"
	} else {
		h.typing.Stop(in.ConvID, c.userID)
	}

	return h.emitExcluding(ctx, convRoom(in.ConvID), event, map[string]any{
		"convId": in.ConvID, "userId": c.userID,
	}, c.userID)
}

func (h *Hub) onPresenceUpdate(ctx context.Context, c *Client, payload json.RawMessage) error {
	var in struct {
		Status models.Presence `json:"status"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid presence:update payload", err)
	}
	if in.Status != models.PresenceOnline && in.Status != models.PresenceAway {
		return apperr.New(apperr.InvalidInput, "status must be online or away")
	}
	if err := h.store.UpdateUserPresence(ctx, c.userID, in.Status); err != nil {
		return err
	}
	if err := h.presence.DeclareStatus(ctx, c.userID, string(in.Status)); err != nil {
		return err
	}
	return h.bus.Emit(ctx, userRoom(c.userID), "user.status", map[string]any{
		"userId": c.userID, "status": in.Status,
	})
}

// emitExcluding publishes normally but each node filters out the
// specified user's own sockets at dispatch time via a marker carried in
// the payload, since the bus has no per-subscriber addressing.
func (h *Hub) emitExcluding(ctx context.Context, room, event string, payload map[string]any, exclude uuid.UUID) error {
	payload["_exclude"] = exclude
	return h.bus.Emit(ctx, room, event, payload)
}
