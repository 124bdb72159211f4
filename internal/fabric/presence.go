package fabric

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// presenceSocketTTL bounds how long a registered socket counts as "live"
// without a heartbeat refresh; comfortably above the 25s ping interval.
const presenceSocketTTL = 90 * time.Second

// PresenceTracker implements the cluster-wide online/away/offline
// authority described in the design notes: online iff >=1 Active socket
// exists anywhere in the cluster, tracked via a Redis sorted set per user
// (member = per-connection id, score = expiry) so no single node needs to
// know about sockets on other nodes.
type PresenceTracker struct {
	rdb *redis.Client
}

func NewPresenceTracker(rdb *redis.Client) *PresenceTracker {
	return &PresenceTracker{rdb: rdb}
}

func socketSetKey(userID uuid.UUID) string { return "presence:sockets:" + userID.String() }
func declaredStatusKey(userID uuid.UUID) string { return "presence:declared:" + userID.String() }

// RegisterSocket adds connID to userID's live-socket set. Returns true if
// this is the user's first live socket cluster-wide (online transition).
func (p *PresenceTracker) RegisterSocket(ctx context.Context, userID uuid.UUID, connID string) (firstSocket bool, err error) {
	key := socketSetKey(userID)
	now := time.Now()
	if err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", itoaScore(now)).Err(); err != nil {
		return false, err
	}
	before, err := p.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if err := p.rdb.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(presenceSocketTTL).Unix()), Member: connID}).Err(); err != nil {
		return false, err
	}
	p.rdb.Expire(ctx, key, presenceSocketTTL)
	return before == 0, nil
}

// Heartbeat refreshes connID's expiry so it stays counted as live.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID uuid.UUID, connID string) error {
	key := socketSetKey(userID)
	return p.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Add(presenceSocketTTL).Unix()),
		Member: connID,
	}).Err()
}

// UnregisterSocket removes connID. Returns true if no live sockets remain
// cluster-wide (offline transition).
func (p *PresenceTracker) UnregisterSocket(ctx context.Context, userID uuid.UUID, connID string) (lastSocket bool, err error) {
	key := socketSetKey(userID)
	if err := p.rdb.ZRem(ctx, key, connID).Err(); err != nil {
		return false, err
	}
	p.rdb.ZRemRangeByScore(ctx, key, "-inf", itoaScore(time.Now()))
	remaining, err := p.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// IsOnline reports whether userID has >=1 live socket cluster-wide.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := socketSetKey(userID)
	p.rdb.ZRemRangeByScore(ctx, key, "-inf", itoaScore(time.Now()))
	n, err := p.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeclareStatus records a client-declared status (online|away); never
// auto-inferred, per the presence-authority rule. offline is derived
// purely from socket count and is never stored here.
func (p *PresenceTracker) DeclareStatus(ctx context.Context, userID uuid.UUID, status string) error {
	return p.rdb.Set(ctx, declaredStatusKey(userID), status, 24*time.Hour).Err()
}

func (p *PresenceTracker) DeclaredStatus(ctx context.Context, userID uuid.UUID) (string, error) {
	v, err := p.rdb.Get(ctx, declaredStatusKey(userID)).Result()
	if err == redis.Nil {
		return "online", nil
	}
	return v, err
}

func itoaScore(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
