// Package emergency implements the emergency lockdown latch (spec
// component C8): an Inactive/Active state machine with a lock-free read
// path and mutex-protected state transitions.
package emergency

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is a point-in-time snapshot of the latch's full state.
type State struct {
	Active       bool
	ActivatedAt  time.Time
	ActivatedBy  string
	Reason       string
	SessionID    string
	BlockedCount uint64
}

// Latch protects a single boolean on the hot read path with an atomic flag,
// and serializes the richer state transitions (who/why/when activated)
// behind a mutex. is_active() never takes the mutex.
type Latch struct {
	active atomic.Bool

	mu          sync.Mutex
	activatedAt time.Time
	activatedBy string
	reason      string
	sessionID   string

	blockedCount atomic.Uint64
}

// New constructs an inactive latch.
func New() *Latch {
	return &Latch{}
}

// IsActive is the lock-free hot-path read used by every decision.
func (l *Latch) IsActive() bool {
	return l.active.Load()
}

// Activate transitions the latch to active. Activating an already-active
// latch is a no-op that returns the current state, not an error (spec
// §4.8). sessionID identifies this activation for correlation with audit
// records.
func (l *Latch) Activate(by, reason, sessionID string) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active.Load() {
		return l.snapshotLocked()
	}

	l.activatedAt = time.Now().UTC()
	l.activatedBy = by
	l.reason = reason
	l.sessionID = sessionID
	l.active.Store(true)

	return l.snapshotLocked()
}

// Deactivate transitions the latch to inactive. Deactivating an
// already-inactive latch is a no-op that returns the current state (spec
// §4.8).
func (l *Latch) Deactivate(by string) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active.Load() {
		return l.snapshotLocked()
	}

	l.active.Store(false)
	l.activatedBy = by

	return l.snapshotLocked()
}

// RecordBlocked increments the count of requests denied due to the latch
// being active. Called from the hot path; atomic, no lock.
func (l *Latch) RecordBlocked() uint64 {
	return l.blockedCount.Add(1)
}

// Statistics returns the latch's full current state.
func (l *Latch) Statistics() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Latch) snapshotLocked() State {
	return State{
		Active:       l.active.Load(),
		ActivatedAt:  l.activatedAt,
		ActivatedBy:  l.activatedBy,
		Reason:       l.reason,
		SessionID:    l.sessionID,
		BlockedCount: l.blockedCount.Load(),
	}
}
