package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
	"github.com/Logan27/1000-messenger-sub005/internal/resilience"
)

const statementTimeout = 5 * time.Second

// Postgres is the relational implementation of Store. Writes always go
// to primary; reads prefer replica when configured, falling back to
// primary when the replica ping fails or the circuit breaker wrapping it
// is open (see readDB). Replica lag is not checked on this path.
type Postgres struct {
	primary *sql.DB
	replica *sql.DB // nil if no replica configured
	breaker *resilience.CircuitBreaker
}

func NewPostgres(primary, replica *sql.DB) *Postgres {
	return &Postgres{
		primary: primary,
		replica: replica,
		breaker: resilience.New(resilience.DefaultConfig("replica-read")),
	}
}

// readDB returns the replica through the circuit breaker when available,
// falling back to primary on any breaker trip or health failure.
func (p *Postgres) readDB(ctx context.Context) *sql.DB {
	if p.replica == nil {
		return p.primary
	}
	result, err := p.breaker.Execute(ctx, func() (any, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.replica.PingContext(pingCtx); err != nil {
			return nil, err
		}
		return p.replica, nil
	})
	if err != nil {
		return p.primary
	}
	return result.(*sql.DB)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, statementTimeout)
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), as raised by lib/pq.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// --- Messages ---------------------------------------------------------

func (p *Postgres) CreateMessage(ctx context.Context, convID, senderID uuid.UUID, body string, kind models.MessageKind, meta models.Metadata, replyTo *uuid.UUID) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var convDeleted sql.NullTime
	row := tx.QueryRowContext(ctx, `SELECT deleted_at FROM conversations WHERE id = $1 FOR UPDATE`, convID)
	if err := row.Scan(&convDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "conversation not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "load conversation", err)
	}
	if convDeleted.Valid {
		return nil, apperr.New(apperr.ConversationClosed, "conversation is closed")
	}

	var senderActive bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL)`,
		convID, senderID,
	).Scan(&senderActive); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "check participant", err)
	}
	if !senderActive {
		return nil, apperr.New(apperr.NotParticipant, "sender is not an active participant")
	}

	if replyTo != nil {
		var replyConvID uuid.UUID
		var replyDeleted bool
		err := tx.QueryRowContext(ctx, `SELECT conversation_id, is_deleted FROM messages WHERE id=$1`, *replyTo).Scan(&replyConvID, &replyDeleted)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && (replyConvID != convID || replyDeleted)) {
			return nil, apperr.New(apperr.InvalidReply, "reply-to message is invalid for this conversation")
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.Internal, "load reply-to message", err)
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "marshal metadata", err)
	}

	msg := &models.Message{}
	row = tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, kind, metadata, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, conversation_id, sender_id, body, kind, metadata, reply_to, is_edited, edited_at, is_deleted, deleted_at, created_at
	`, convID, senderID, body, string(kind), metaJSON, replyTo)
	if err := scanMessage(row, msg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert message", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = $1 WHERE id = $2`, msg.CreatedAt, convID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "bump last_message_at", err)
	}

	recipRows, err := tx.QueryContext(ctx, `SELECT user_id FROM participants WHERE conversation_id=$1 AND user_id<>$2 AND left_at IS NULL`, convID, senderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list recipients", err)
	}
	var recipients []uuid.UUID
	for recipRows.Next() {
		var id uuid.UUID
		if err := recipRows.Scan(&id); err != nil {
			recipRows.Close()
			return nil, apperr.Wrap(apperr.Internal, "scan recipient", err)
		}
		recipients = append(recipients, id)
	}
	recipRows.Close()

	for _, recipient := range recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_records (message_id, recipient_id, status) VALUES ($1, $2, 'sent')
		`, msg.ID, recipient); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "insert delivery record", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE participants SET unread_count = unread_count + 1 WHERE conversation_id=$1 AND user_id=$2
		`, convID, recipient); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "bump unread_count", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unread_index (user_id, conversation_id, message_id) VALUES ($1, $2, $3)
		`, recipient, convID, msg.ID); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "insert unread index", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return msg, nil
}

func scanMessage(row *sql.Row, msg *models.Message) error {
	var senderID uuid.NullUUID
	var replyTo uuid.NullUUID
	var editedAt, deletedAt sql.NullTime
	var metaJSON []byte
	var kind string

	if err := row.Scan(&msg.ID, &msg.ConvID, &senderID, &msg.Body, &kind, &metaJSON, &replyTo, &msg.Edited, &editedAt, &msg.Deleted, &deletedAt, &msg.CreatedAt); err != nil {
		return err
	}
	msg.Kind = models.MessageKind(kind)
	if senderID.Valid {
		id := senderID.UUID
		msg.SenderID = &id
	}
	if replyTo.Valid {
		id := replyTo.UUID
		msg.ReplyTo = &id
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	if deletedAt.Valid {
		msg.DeletedAt = &deletedAt.Time
	}
	var meta models.Metadata
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &meta)
	}
	msg.Metadata = meta
	return nil
}

func scanMessageRows(rows *sql.Rows) (*models.Message, error) {
	var msg models.Message
	var senderID uuid.NullUUID
	var replyTo uuid.NullUUID
	var editedAt, deletedAt sql.NullTime
	var metaJSON []byte
	var kind string

	if err := rows.Scan(&msg.ID, &msg.ConvID, &senderID, &msg.Body, &kind, &metaJSON, &replyTo, &msg.Edited, &editedAt, &msg.Deleted, &deletedAt, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Kind = models.MessageKind(kind)
	if senderID.Valid {
		id := senderID.UUID
		msg.SenderID = &id
	}
	if replyTo.Valid {
		id := replyTo.UUID
		msg.ReplyTo = &id
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	if deletedAt.Valid {
		msg.DeletedAt = &deletedAt.Time
	}
	var meta models.Metadata
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &meta)
	}
	msg.Metadata = meta
	return &msg, nil
}

const messageColumns = `id, conversation_id, sender_id, body, kind, metadata, reply_to, is_edited, edited_at, is_deleted, deleted_at, created_at`

func (p *Postgres) ListMessages(ctx context.Context, convID, viewerID uuid.UUID, limit int, cursor *time.Time) ([]models.Message, *time.Time, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 100
	}

	db := p.readDB(ctx)

	var active bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL)`, convID, viewerID).Scan(&active); err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "check viewer participation", err)
	}
	if !active {
		return nil, nil, apperr.New(apperr.NotParticipant, "viewer is not an active participant")
	}

	var rows *sql.Rows
	var err error
	if cursor != nil {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM messages WHERE conversation_id=$1 AND created_at < $2
			ORDER BY created_at DESC, id DESC LIMIT $3
		`, messageColumns), convID, *cursor, limit)
	} else {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM messages WHERE conversation_id=$1
			ORDER BY created_at DESC, id DESC LIMIT $2
		`, messageColumns), convID, limit)
	}
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "list messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.Internal, "scan message", err)
		}
		out = append(out, *msg)
	}

	var next *time.Time
	if len(out) == limit {
		t := out[len(out)-1].CreatedAt
		next = &t
	}
	return out, next, nil
}

func (p *Postgres) EditMessage(ctx context.Context, msgID, editorID uuid.UUID, newBody string) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if newBody == "" {
		return nil, apperr.New(apperr.InvalidInput, "body must not be empty")
	}

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var msg models.Message
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE id=$1 FOR UPDATE`, messageColumns), msgID)
	if err := scanMessage(row, &msg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "message not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "load message", err)
	}

	if msg.SenderID == nil || *msg.SenderID != editorID {
		return nil, apperr.New(apperr.NotAuthor, "only the sender may edit this message")
	}
	if msg.Deleted {
		return nil, apperr.New(apperr.ConversationClosed, "message is deleted")
	}
	if msg.Kind == models.MessageSystem {
		return nil, apperr.New(apperr.InvalidInput, "system messages are not editable")
	}

	metaJSON, _ := json.Marshal(msg.Metadata)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO edit_history_entries (message_id, prior_body, prior_metadata) VALUES ($1, $2, $3)
	`, msg.ID, msg.Body, metaJSON); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert edit history", err)
	}

	row = tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE messages SET body=$1, is_edited=true, edited_at=now() WHERE id=$2
		RETURNING %s
	`, messageColumns), newBody, msg.ID)
	var updated models.Message
	if err := scanMessage(row, &updated); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return &updated, nil
}

func (p *Postgres) SoftDeleteMessage(ctx context.Context, msgID, actorID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var convID uuid.UUID
	var senderID uuid.NullUUID
	if err := tx.QueryRowContext(ctx, `SELECT conversation_id, sender_id FROM messages WHERE id=$1 FOR UPDATE`, msgID).Scan(&convID, &senderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, "message not found")
		}
		return apperr.Wrap(apperr.Internal, "load message", err)
	}

	isSender := senderID.Valid && senderID.UUID == actorID
	if !isSender {
		var role string
		err := tx.QueryRowContext(ctx, `SELECT role FROM participants WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL`, convID, actorID).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) || (role != string(models.RoleOwner) && role != string(models.RoleAdmin)) {
			return apperr.New(apperr.NotAuthor, "actor may not delete this message")
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Internal, "check actor role", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_deleted=true, deleted_at=now() WHERE id=$1`, msgID); err != nil {
		return apperr.Wrap(apperr.Internal, "soft delete message", err)
	}

	// A soft-deleted message must stop counting toward any recipient's
	// unread total: drop its unread_index rows and decrement the
	// affected participants, mirroring the bump done on send and the
	// clear done by ResetUnread.
	if _, err := tx.ExecContext(ctx, `
		WITH removed AS (
			DELETE FROM unread_index WHERE conversation_id=$1 AND message_id=$2 RETURNING user_id
		)
		UPDATE participants SET unread_count = GREATEST(unread_count - 1, 0)
		WHERE conversation_id=$1 AND user_id IN (SELECT user_id FROM removed)
	`, convID, msgID); err != nil {
		return apperr.Wrap(apperr.Internal, "reconcile unread index on delete", err)
	}

	return apperr.KindKeep(tx.Commit())
}

func (p *Postgres) GetMessage(ctx context.Context, msgID uuid.UUID) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var msg models.Message
	row := p.primary.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE id=$1`, messageColumns), msgID)
	if err := scanMessage(row, &msg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "message not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "load message", err)
	}
	return &msg, nil
}

// --- Delivery ----------------------------------------------------------

func (p *Postgres) TransitionDelivery(ctx context.Context, msgID, recipientID uuid.UUID, target models.DeliveryStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var status string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT status, created_at FROM delivery_records WHERE message_id=$1 AND recipient_id=$2 FOR UPDATE
	`, msgID, recipientID).Scan(&status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, "delivery record not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "load delivery record", err)
	}

	current := models.DeliveryStatus(status)
	if current.Reached(target) {
		return apperr.KindKeep(tx.Commit())
	}

	switch target {
	case models.DeliveryDelivered:
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_records SET status='delivered', delivered_at=now() WHERE message_id=$1 AND recipient_id=$2
		`, msgID, recipientID); err != nil {
			return apperr.Wrap(apperr.Internal, "transition to delivered", err)
		}
	case models.DeliveryRead:
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_records SET status='read', read_at=now(), delivered_at=COALESCE(delivered_at, now())
			WHERE message_id=$1 AND recipient_id=$2
		`, msgID, recipientID); err != nil {
			return apperr.Wrap(apperr.Internal, "transition to read", err)
		}

		var convID uuid.UUID
		var msgCreatedAt time.Time
		if err := tx.QueryRowContext(ctx, `SELECT conversation_id, created_at FROM messages WHERE id=$1`, msgID).Scan(&convID, &msgCreatedAt); err != nil {
			return apperr.Wrap(apperr.Internal, "load message for read transition", err)
		}

		var currentLastRead sql.NullTime
		if err := tx.QueryRowContext(ctx, `
			SELECT m.created_at FROM participants p
			LEFT JOIN messages m ON m.id = p.last_read_message_id
			WHERE p.conversation_id=$1 AND p.user_id=$2 FOR UPDATE
		`, convID, recipientID).Scan(&currentLastRead); err != nil {
			return apperr.Wrap(apperr.Internal, "load participant last-read", err)
		}

		if !currentLastRead.Valid || msgCreatedAt.After(currentLastRead.Time) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE participants SET last_read_message_id=$1 WHERE conversation_id=$2 AND user_id=$3
			`, msgID, convID, recipientID); err != nil {
				return apperr.Wrap(apperr.Internal, "advance last-read", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM unread_index WHERE user_id=$1 AND conversation_id=$2 AND message_id=$3`, recipientID, convID, msgID); err != nil {
			return apperr.Wrap(apperr.Internal, "delete unread index entry", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE participants SET unread_count = GREATEST(unread_count - 1, 0) WHERE conversation_id=$1 AND user_id=$2
		`, convID, recipientID); err != nil {
			return apperr.Wrap(apperr.Internal, "decrement unread_count", err)
		}
	default:
		return apperr.New(apperr.InvalidInput, "unsupported delivery transition target")
	}

	return apperr.KindKeep(tx.Commit())
}

func (p *Postgres) GetDeliveryRecord(ctx context.Context, msgID, recipientID uuid.UUID) (*models.DeliveryRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rec models.DeliveryRecord
	var status string
	var deliveredAt, readAt sql.NullTime
	err := p.readDB(ctx).QueryRowContext(ctx, `
		SELECT message_id, recipient_id, status, delivered_at, read_at, created_at FROM delivery_records
		WHERE message_id=$1 AND recipient_id=$2
	`, msgID, recipientID).Scan(&rec.MessageID, &rec.RecipientID, &status, &deliveredAt, &readAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "delivery record not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load delivery record", err)
	}
	rec.Status = models.DeliveryStatus(status)
	if deliveredAt.Valid {
		rec.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		rec.ReadAt = &readAt.Time
	}
	return &rec, nil
}

func (p *Postgres) PendingDeliveries(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DeliveryRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.readDB(ctx).QueryContext(ctx, `
		SELECT message_id, recipient_id, status, delivered_at, read_at, created_at FROM delivery_records
		WHERE recipient_id=$1 AND status='sent'
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list pending deliveries", err)
	}
	defer rows.Close()

	var out []models.DeliveryRecord
	for rows.Next() {
		var rec models.DeliveryRecord
		var status string
		var deliveredAt, readAt sql.NullTime
		if err := rows.Scan(&rec.MessageID, &rec.RecipientID, &status, &deliveredAt, &readAt, &rec.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan pending delivery", err)
		}
		rec.Status = models.DeliveryStatus(status)
		if deliveredAt.Valid {
			rec.DeliveredAt = &deliveredAt.Time
		}
		if readAt.Valid {
			rec.ReadAt = &readAt.Time
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- Reactions -----------------------------------------------------------

func (p *Postgres) AddReaction(ctx context.Context, msgID, userID uuid.UUID, emoji string) (*models.Reaction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if emoji == "" || utf8.RuneCountInString(emoji) > 10 {
		return nil, apperr.New(apperr.InvalidInput, "emoji must be 1-10 characters")
	}

	var r models.Reaction
	err := p.primary.QueryRowContext(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		RETURNING id, message_id, user_id, emoji, created_at
	`, msgID, userID, emoji).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.ConflictUniqueViolation, "reaction already exists")
		}
		return nil, apperr.Wrap(apperr.Internal, "insert reaction", err)
	}
	return &r, nil
}

// RemoveReaction deletes the reaction and returns it so the caller (the
// message service) can resolve which conversation to broadcast the
// removal to without a separate round trip.
func (p *Postgres) RemoveReaction(ctx context.Context, reactionID uuid.UUID, userID uuid.UUID) (*models.Reaction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var r models.Reaction
	err := p.primary.QueryRowContext(ctx, `
		DELETE FROM reactions WHERE id=$1 AND user_id=$2
		RETURNING id, message_id, user_id, emoji, created_at
	`, reactionID, userID).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "reaction not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "delete reaction", err)
	}
	return &r, nil
}

// --- Participants --------------------------------------------------------

func (p *Postgres) UpsertParticipant(ctx context.Context, convID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM participants WHERE conversation_id=$1 AND left_at IS NULL`, convID).Scan(&count); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "count active participants", err)
	}
	if count >= models.MaxGroupParticipants {
		var already bool
		_ = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, convID, userID).Scan(&already)
		if !already {
			return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("group already has the maximum of %d participants", models.MaxGroupParticipants))
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET role=EXCLUDED.role, left_at=NULL
	`, convID, userID, string(role)); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "upsert participant", err)
	}

	var part models.Participant
	var lastRead uuid.NullUUID
	var leftAt sql.NullTime
	row := tx.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, left_at, last_read_message_id, unread_count
		FROM participants WHERE conversation_id=$1 AND user_id=$2
	`, convID, userID)
	var roleStr string
	if err := row.Scan(&part.ConversationID, &part.UserID, &roleStr, &part.JoinedAt, &leftAt, &lastRead, &part.UnreadCount); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load participant", err)
	}
	part.Role = models.ParticipantRole(roleStr)
	if leftAt.Valid {
		part.LeftAt = &leftAt.Time
	}
	if lastRead.Valid {
		id := lastRead.UUID
		part.LastReadMessage = &id
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return &part, nil
}

func (p *Postgres) MarkLeft(ctx context.Context, convID, userID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := p.primary.ExecContext(ctx, `
		UPDATE participants SET left_at=now() WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL
	`, convID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "mark left", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "active participant not found")
	}
	return nil
}

func (p *Postgres) CountActiveParticipants(ctx context.Context, convID uuid.UUID) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	if err := p.readDB(ctx).QueryRowContext(ctx, `SELECT count(*) FROM participants WHERE conversation_id=$1 AND left_at IS NULL`, convID).Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.Internal, "count active participants", err)
	}
	return count, nil
}

func (p *Postgres) ActiveParticipantIDs(ctx context.Context, convID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.readDB(ctx).QueryContext(ctx, `SELECT user_id FROM participants WHERE conversation_id=$1 AND left_at IS NULL`, convID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list active participants", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan participant", err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (p *Postgres) IsActiveParticipant(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var active bool
	if err := p.readDB(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL)
	`, convID, userID).Scan(&active); err != nil {
		return false, apperr.Wrap(apperr.Internal, "check participant", err)
	}
	return active, nil
}

// --- Conversations ---------------------------------------------------------

func (p *Postgres) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var conv models.Conversation
	err := p.readDB(ctx).QueryRowContext(ctx, `
		SELECT c.id, c.kind, c.name, c.slug, c.owner_id, c.created_at, c.last_message_at, c.deleted_at
		FROM conversations c
		WHERE c.kind='direct' AND c.deleted_at IS NULL
		AND EXISTS (SELECT 1 FROM participants p1 WHERE p1.conversation_id=c.id AND p1.user_id=$1 AND p1.left_at IS NULL)
		AND EXISTS (SELECT 1 FROM participants p2 WHERE p2.conversation_id=c.id AND p2.user_id=$2 AND p2.left_at IS NULL)
	`, a, b).Scan(&conv.ID, &conv.Kind, &conv.Name, &conv.Slug, &conv.OwnerID, &conv.CreatedAt, &conv.LastMessageAt, &conv.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no direct conversation between these users")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "find direct conversation", err)
	}
	return &conv, nil
}

func (p *Postgres) CreateDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if a == b {
		return nil, apperr.New(apperr.InvalidInput, "cannot create a direct conversation with oneself")
	}

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (kind) VALUES ('direct')
		RETURNING id, kind, name, slug, owner_id, created_at, last_message_at, deleted_at
	`).Scan(&conv.ID, &conv.Kind, &conv.Name, &conv.Slug, &conv.OwnerID, &conv.CreatedAt, &conv.LastMessageAt, &conv.DeletedAt); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert conversation", err)
	}

	for _, userID := range []uuid.UUID{a, b} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, 'member')`, conv.ID, userID); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "insert participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return &conv, nil
}

func (p *Postgres) CreateGroupConversation(ctx context.Context, ownerID uuid.UUID, name string, memberIDs []uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if name == "" {
		return nil, apperr.New(apperr.InvalidInput, "group conversations require a name")
	}
	if len(memberIDs)+1 > models.MaxGroupParticipants {
		return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("group may not exceed %d participants", models.MaxGroupParticipants))
	}

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (kind, name, owner_id) VALUES ('group', $1, $2)
		RETURNING id, kind, name, slug, owner_id, created_at, last_message_at, deleted_at
	`, name, ownerID).Scan(&conv.ID, &conv.Kind, &conv.Name, &conv.Slug, &conv.OwnerID, &conv.CreatedAt, &conv.LastMessageAt, &conv.DeletedAt); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert conversation", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, 'owner')`, conv.ID, ownerID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert owner participant", err)
	}
	for _, userID := range memberIDs {
		if userID == ownerID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, 'member')`, conv.ID, userID); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "insert member participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return &conv, nil
}

func (p *Postgres) GetConversation(ctx context.Context, convID uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var conv models.Conversation
	err := p.readDB(ctx).QueryRowContext(ctx, `
		SELECT id, kind, name, slug, owner_id, created_at, last_message_at, deleted_at FROM conversations WHERE id=$1
	`, convID).Scan(&conv.ID, &conv.Kind, &conv.Name, &conv.Slug, &conv.OwnerID, &conv.CreatedAt, &conv.LastMessageAt, &conv.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "conversation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load conversation", err)
	}
	return &conv, nil
}

func (p *Postgres) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.readDB(ctx).QueryContext(ctx, `
		SELECT c.id, c.kind, c.name, c.slug, c.owner_id, c.created_at, c.last_message_at, c.deleted_at,
		       p.unread_count,
		       lm.body, lm.sender_id, lm.created_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1 AND p.left_at IS NULL
		LEFT JOIN LATERAL (
			SELECT body, sender_id, created_at FROM messages
			WHERE conversation_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
		) lm ON true
		WHERE c.deleted_at IS NULL
		ORDER BY c.last_message_at DESC
	`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list user conversations", err)
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var body sql.NullString
		var senderID uuid.NullUUID
		var createdAt sql.NullTime
		if err := rows.Scan(
			&s.Conversation.ID, &s.Conversation.Kind, &s.Conversation.Name, &s.Conversation.Slug, &s.Conversation.OwnerID,
			&s.Conversation.CreatedAt, &s.Conversation.LastMessageAt, &s.Conversation.DeletedAt,
			&s.UnreadCount, &body, &senderID, &createdAt,
		); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan conversation summary", err)
		}
		if body.Valid {
			s.LastMessageBody = body.String
		}
		if senderID.Valid {
			id := senderID.UUID
			s.LastMessageSenderID = &id
		}
		if createdAt.Valid {
			s.LastMessageCreatedAt = &createdAt.Time
		}
		out = append(out, s)
	}
	return out, nil
}

// ConversationRoomIDs resolves every room id (conversation) a user must
// be subscribed to on connect — used by the fabric instead of the
// "returns empty" stub flagged in the design notes.
func (p *Postgres) ConversationRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.readDB(ctx).QueryContext(ctx, `
		SELECT conversation_id FROM participants WHERE user_id=$1 AND left_at IS NULL
	`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list conversation room ids", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan room id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Postgres) ResetUnread(ctx context.Context, convID, userID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := p.primary.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE participants SET unread_count=0 WHERE conversation_id=$1 AND user_id=$2`, convID, userID); err != nil {
		return apperr.Wrap(apperr.Internal, "reset unread count", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM unread_index WHERE conversation_id=$1 AND user_id=$2`, convID, userID); err != nil {
		return apperr.Wrap(apperr.Internal, "clear unread index", err)
	}

	return apperr.KindKeep(tx.Commit())
}

func (p *Postgres) SearchMessages(ctx context.Context, convID uuid.UUID, query string, limit int) ([]models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := p.readDB(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_id=$1 AND NOT is_deleted AND content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $2)) DESC, created_at DESC
		LIMIT $3
	`, messageColumns), convID, query, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "search messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan search result", err)
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (p *Postgres) UpdateUserPresence(ctx context.Context, userID uuid.UUID, presence models.Presence) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := p.primary.ExecContext(ctx, `
		UPDATE users SET presence=$1, last_seen=now() WHERE id=$2
	`, string(presence), userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update user presence", err)
	}
	return nil
}

func (p *Postgres) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.primary.PingContext(ctx); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "primary unreachable", err)
	}
	return nil
}

func (p *Postgres) ReplicaLag(ctx context.Context) (time.Duration, error) {
	if p.replica == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var lagSeconds float64
	err := p.replica.QueryRowContext(ctx, `
		SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())), 0)
	`).Scan(&lagSeconds)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageUnavailable, "read replica lag", err)
	}
	return time.Duration(lagSeconds * float64(time.Second)), nil
}
