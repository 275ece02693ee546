package attendance

import (
	"context"
	"time"
)

// Arbiter grants exclusive console-view ownership of a session to a single
// kiosk. A processed session can no longer be locked and its lock is void.
type Arbiter struct {
	store Store
	now   func() time.Time
}

// NewArbiter creates an arbiter; now defaults to time.Now.
func NewArbiter(store Store, now func() time.Time) *Arbiter {
	if now == nil {
		now = time.Now
	}
	return &Arbiter{store: store, now: now}
}

// Lock gives kioskID the view of the session. Re-locking by the holder is
// a no-op; a lock held by anyone else is a conflict.
func (a *Arbiter) Lock(ctx context.Context, sessionID, kioskID string) (Session, error) {
	if sessionID == "" || kioskID == "" {
		return Session{}, Validation("session id and lockerId are required")
	}
	sess, err := a.store.MutateSession(ctx, sessionID, func(s *Session) error {
		if s.IsProcessed {
			return ErrSessionClosed
		}
		switch s.ViewLockOwner {
		case kioskID:
			return nil
		case "":
			at := a.now().UTC()
			s.ViewLockOwner = kioskID
			s.ViewLockAcquiredAt = &at
			return nil
		default:
			return lockHeld(s.ViewLockOwner, s.ViewLockAcquiredAt)
		}
	})
	if KindOf(err) == KindConflict {
		viewLockConflicts.Inc()
	}
	return sess, err
}

// Unlock releases the view. Releasing a lock held by another kiosk needs
// force, which is reserved for an operator-confirmed override.
func (a *Arbiter) Unlock(ctx context.Context, sessionID, kioskID string, force bool) (Session, error) {
	if sessionID == "" || kioskID == "" {
		return Session{}, Validation("session id and lockerId are required")
	}
	sess, err := a.store.MutateSession(ctx, sessionID, func(s *Session) error {
		if s.ViewLockOwner != "" && s.ViewLockOwner != kioskID && !s.IsProcessed && !force {
			return lockHeld(s.ViewLockOwner, s.ViewLockAcquiredAt)
		}
		s.ViewLockOwner = ""
		s.ViewLockAcquiredAt = nil
		return nil
	})
	if KindOf(err) == KindConflict {
		viewLockConflicts.Inc()
	}
	return sess, err
}
