package deras

import "sync"

// Direction marks whether a log entry was sent to or received from the
// gateway.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// LogEntry is one protocol-level event. Entries are immutable after
// append; the Raw payload is never truncated here, only display layers
// may shorten it.
type LogEntry struct {
	ID         uint64    `json:"id"`
	Direction  Direction `json:"direction"`
	Timestamp  int64     `json:"timestamp"` // millis
	Event      string    `json:"event"`
	Raw        string    `json:"raw"`
	StatusCode *int      `json:"statusCode,omitempty"`
	OK         bool      `json:"ok"`
}

// LogBuffer is a bounded, newest-first record of protocol events.
// IDs are strictly increasing for the lifetime of the buffer and are
// never reused, even after eviction.
type LogBuffer struct {
	mu       sync.Mutex
	capacity int
	nextID   uint64
	entries  []LogEntry // index 0 is most recent
}

// DefaultLogCapacity bounds the protocol log.
const DefaultLogCapacity = 200

// NewLogBuffer creates a LogBuffer. Non-positive capacities fall back
// to DefaultLogCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{capacity: capacity}
}

// Append assigns the next ID to e, prepends it, and evicts the oldest
// entries past capacity. The stored entry is returned.
func (b *LogBuffer) Append(e LogEntry) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	e.ID = b.nextID

	keep := len(b.entries)
	if keep > b.capacity-1 {
		keep = b.capacity - 1
	}
	entries := make([]LogEntry, 0, keep+1)
	entries = append(entries, e)
	entries = append(entries, b.entries[:keep]...)
	b.entries = entries
	return e
}

// Entries returns a newest-first copy of the buffered entries.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// FindRecent returns the most recent entry matching direction and event
// whose timestamp is at or after since (millis). The scan walks from
// the newest entry; the buffer is small and bounded so this is cheap.
func (b *LogBuffer) FindRecent(event string, dir Direction, since int64) (LogEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.Direction == dir && e.Event == event && e.Timestamp >= since {
			return e, true
		}
	}
	return LogEntry{}, false
}

// ReadBuffer is a bounded, newest-first record of accepted reads.
// No deduplication happens here: every accepted Read is appended even
// when its TID repeats.
type ReadBuffer struct {
	mu       sync.Mutex
	capacity int
	reads    []Read // index 0 is most recent
}

// DefaultReadCapacity bounds the read buffer.
const DefaultReadCapacity = 500

// NewReadBuffer creates a ReadBuffer. Non-positive capacities fall
// back to DefaultReadCapacity.
func NewReadBuffer(capacity int) *ReadBuffer {
	if capacity <= 0 {
		capacity = DefaultReadCapacity
	}
	return &ReadBuffer{capacity: capacity}
}

// Append prepends r and evicts the oldest reads past capacity.
func (b *ReadBuffer) Append(r Read) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keep := len(b.reads)
	if keep > b.capacity-1 {
		keep = b.capacity - 1
	}
	reads := make([]Read, 0, keep+1)
	reads = append(reads, r)
	reads = append(reads, b.reads[:keep]...)
	b.reads = reads
}

// Reads returns a newest-first copy of the buffered reads.
func (b *ReadBuffer) Reads() []Read {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Read, len(b.reads))
	copy(out, b.reads)
	return out
}

// Len returns the number of buffered reads.
func (b *ReadBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads)
}
