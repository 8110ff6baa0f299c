package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Stale rows are kept until overwritten.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Entry
	now   func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		items: make(map[string]Entry),
		now:   o.now,
	}
}

func (c *MemoryStore) Read(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	return e, ok, nil
}

func (c *MemoryStore) Write(_ context.Context, key string, payload json.RawMessage) error {
	// Copy so later mutation of the caller's slice cannot change the stored row.
	buf := make(json.RawMessage, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry{
		Payload:   buf,
		WrittenAt: c.now(),
	}
	return nil
}

// Len reports how many keys are held
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear drops every row
func (c *MemoryStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Entry)
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)
