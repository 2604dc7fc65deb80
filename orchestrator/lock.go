package orchestrator

import (
	"sync"
	"time"
)

// DefaultLockStaleAfter is how long a holder may sit on the lock before
// a new acquirer may evict it. Crashes mid-cycle must not wedge sync
// forever.
const DefaultLockStaleAfter = 60 * time.Second

// Lock is the process-wide mutual exclusion over sync cycles. It is
// epoch-guarded: every successful acquisition bumps the epoch, and a
// release only takes effect when its epoch still matches, so a holder
// that was evicted as stale cannot release the lock out from under the
// evictor.
type Lock struct {
	mu         sync.Mutex
	held       bool
	epoch      uint64
	acquiredAt time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// NewLock returns a Lock with the default staleness window.
func NewLock() *Lock {
	return &Lock{staleAfter: DefaultLockStaleAfter, now: time.Now}
}

// LockHandle proves one acquisition. Release through the handle; a
// handle from an evicted acquisition is inert.
type LockHandle struct {
	lock  *Lock
	epoch uint64
}

// TryAcquire attempts to take the lock without blocking. A holder older
// than the staleness window is force-released first. Returns false when
// the lock is legitimately held.
func (l *Lock) TryAcquire() (*LockHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held && l.now().Sub(l.acquiredAt) <= l.staleAfter {
		return nil, false
	}

	l.held = true
	l.epoch++
	l.acquiredAt = l.now()
	return &LockHandle{lock: l, epoch: l.epoch}, true
}

// Release frees the lock if this handle's acquisition is still current.
func (h *LockHandle) Release() {
	if h == nil {
		return
	}
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()
	if h.lock.held && h.lock.epoch == h.epoch {
		h.lock.held = false
	}
}

// Held reports whether the lock is currently held.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
