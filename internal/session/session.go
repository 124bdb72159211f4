// Package session manages per-device sessions and the socket-id binding
// that lets the fabric resolve which session owns a live connection.
// Sessions are the unit of revocation: invalidate one for logout,
// invalidate all for a user for a forced logout-all.
package session

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

const revokedKeyPrefix = "session:revoked:"

type Service struct {
	db  *sql.DB
	rdb *redis.Client
}

func New(db *sql.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb}
}

// hashFingerprint hashes a device fingerprint before it is persisted, so
// the sessions table never holds the raw client-supplied value (which
// may embed identifying hardware/browser details). A fast keyless hash
// is sufficient here: the fingerprint is never checked against a
// user-chosen secret, only compared for equality across a user's own
// sessions.
func hashFingerprint(fp string) string {
	sum := blake2b.Sum256([]byte(fp))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, deviceFingerprint string, ttl time.Duration) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, device_fingerprint, expires_at) VALUES ($1, $2, $3)
		RETURNING id, user_id, device_fingerprint, socket_id, created_at, last_activity_at, expires_at, active
	`, userID, hashFingerprint(deviceFingerprint), time.Now().Add(ttl)).Scan(
		&sess.ID, &sess.UserID, &sess.DeviceFP, &sess.SocketID, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.Active,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create session", err)
	}
	return &sess, nil
}

func (s *Service) Touch(ctx context.Context, sessionID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at=now() WHERE id=$1 AND active`, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "touch session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.AuthExpired, "session is not active")
	}
	return nil
}

func (s *Service) UpdateSocketID(ctx context.Context, sessionID uuid.UUID, socketID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET socket_id=$1 WHERE id=$2`, socketID, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update socket id", err)
	}
	return nil
}

// Invalidate revokes one session: marks it inactive in Postgres and adds
// it to the Redis-backed revocation set so the next handshake check
// rejects without a database round trip.
func (s *Service) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active=false WHERE id=$1`, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "invalidate session", err)
	}
	if err := s.rdb.Set(ctx, revokedKeyPrefix+sessionID.String(), "1", 7*24*time.Hour).Err(); err != nil {
		return apperr.Wrap(apperr.Internal, "mark session revoked", err)
	}
	return nil
}

// InvalidateAll revokes every active session for userID (forced logout-all).
func (s *Service) InvalidateAll(ctx context.Context, userID uuid.UUID) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE user_id=$1 AND active`, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "list active sessions", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.Internal, "scan session id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ActiveSessionsFor(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, device_fingerprint, socket_id, created_at, last_activity_at, expires_at, active
		FROM sessions WHERE user_id=$1 AND active AND expires_at > now()
	`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list active sessions", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.DeviceFP, &sess.SocketID, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.Active); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan session", err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// IsRevoked checks the fast Redis path first, falling back to Postgres
// only on a Redis miss-or-error so a handshake never fails open on a
// true revocation.
func (s *Service) IsRevoked(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedKeyPrefix+sessionID.String()).Result()
	if err == nil {
		if n > 0 {
			return true, nil
		}
	}

	var active bool
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx, `SELECT active, expires_at FROM sessions WHERE id=$1`, sessionID).Scan(&active, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "check session state", err)
	}
	return !active || !expiresAt.After(time.Now()), nil
}

func (s *Service) Validate(ctx context.Context, sessionID, userID uuid.UUID) error {
	revoked, err := s.IsRevoked(ctx, sessionID)
	if err != nil {
		return err
	}
	if revoked {
		return apperr.New(apperr.AuthExpired, "session is no longer active")
	}
	return nil
}

var ErrNotFound = fmt.Errorf("session: not found")
