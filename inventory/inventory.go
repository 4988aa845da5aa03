// Package inventory keeps the items registered through the agent
// during the current session. It is a working set for the registration
// workflow, not the system of record; the gateway database is.
package inventory

import (
	"sync"
	"time"
)

// Item is one registered product unit bound to a tag.
type Item struct {
	ID          int    `json:"id"`
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Category    string `json:"category"`
	EPC         string `json:"epc"`
	TID         string `json:"tid"`
	CreatedTime int64  `json:"createdTime"` // millis
	Status      string `json:"status"`
}

// Store is a concurrency-safe in-memory item list.
type Store struct {
	mu     sync.Mutex
	nextID int
	items  []Item
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{nextID: 1}
}

// Add assigns an ID and creation time to item and stores it. The
// stored item is returned.
func (s *Store) Add(item Item) Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.nextID
	s.nextID++
	if item.CreatedTime == 0 {
		item.CreatedTime = time.Now().UnixMilli()
	}
	if item.Status == "" {
		item.Status = "registered"
	}
	s.items = append(s.items, item)
	return item
}

// List returns a copy of all items in insertion order.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
