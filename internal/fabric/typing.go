package fabric

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const typingExpiry = 3 * time.Second

// TypingTracker is the one deliberate piece of in-process shared mutable
// state (per the concurrency model's carve-out): per (conversation, user)
// typing state with a short-lived auto-expire, guarded by a short-held
// mutex. It is intentionally not persisted anywhere durable.
type TypingTracker struct {
	mu     sync.Mutex
	expiry map[uuid.UUID]map[uuid.UUID]time.Time
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{expiry: make(map[uuid.UUID]map[uuid.UUID]time.Time)}
}

// Start marks userID as typing in convID until the 3-second window
// elapses. Returns false if userID was already marked typing (so callers
// can avoid redundant typing.start broadcasts).
func (t *TypingTracker) Start(convID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.expiry[convID]
	if !ok {
		users = make(map[uuid.UUID]time.Time)
		t.expiry[convID] = users
	}
	_, already := users[userID]
	users[userID] = time.Now().Add(typingExpiry)
	return !already
}

// Stop clears userID's typing state in convID.
func (t *TypingTracker) Stop(convID, userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if users, ok := t.expiry[convID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.expiry, convID)
		}
	}
}

// sweepExpired drops any (conv, user) pair whose window has elapsed and
// returns the ones that just expired, so the caller can broadcast
// typing.stop on the typer's behalf.
func (t *TypingTracker) sweepExpired() []struct{ ConvID, UserID uuid.UUID } {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var expired []struct{ ConvID, UserID uuid.UUID }
	for convID, users := range t.expiry {
		for userID, exp := range users {
			if now.After(exp) {
				delete(users, userID)
				expired = append(expired, struct{ ConvID, UserID uuid.UUID }{convID, userID})
			}
		}
		if len(users) == 0 {
			delete(t.expiry, convID)
		}
	}
	return expired
}
