package memory

import "sync"

// Background operation kinds guarded by the single-flight table.
const (
	OpExtraction  = "extraction"
	OpSummary     = "summary"
	OpCompression = "compression"
)

type lockKey struct {
	conversationID string
	op             string
}

// OpLocks is a process-local single-flight table for background memory
// operations. It prevents a second concurrent extraction, summary or
// compression for the same conversation within one process; it offers no
// cross-process exclusion.
type OpLocks struct {
	mu   sync.Mutex
	held map[lockKey]struct{}
}

func NewOpLocks() *OpLocks {
	return &OpLocks{held: make(map[lockKey]struct{})}
}

// TryAcquire takes the lock if free and reports whether it was taken. A false
// return means another instance of the same operation is in flight; callers
// skip silently.
func (l *OpLocks) TryAcquire(conversationID, op string) bool {
	key := lockKey{conversationID, op}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock. Safe to call for a lock that is not held.
func (l *OpLocks) Release(conversationID, op string) {
	key := lockKey{conversationID, op}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Held reports whether the lock is currently taken.
func (l *OpLocks) Held(conversationID, op string) bool {
	key := lockKey{conversationID, op}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
