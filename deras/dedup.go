package deras

import "sync"

// SessionDedup tracks tag identities already acted upon within one
// scanning session. The buffers themselves never deduplicate; consumers
// that should count each physical tag once (outbound picking, stock
// check) consult a SessionDedup and reset it when a new session starts.
type SessionDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSessionDedup creates an empty dedup set.
func NewSessionDedup() *SessionDedup {
	return &SessionDedup{seen: make(map[string]struct{})}
}

// Seen marks tid as observed and reports whether it had been observed
// earlier in the current session.
func (d *SessionDedup) Seen(tid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[tid]; ok {
		return true
	}
	d.seen[tid] = struct{}{}
	return false
}

// Count returns the number of distinct tags observed this session.
func (d *SessionDedup) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset clears the session, typically at scan start.
func (d *SessionDedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}
