package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nftwatch/internal/storage"
)

// Cursor is the persisted list offset. Every Advance is written through to
// the store; a failed write keeps the in-memory offset and is retried by the
// next Advance or Save.
type Cursor struct {
	mu      sync.Mutex
	store   storage.Store
	now     func() time.Time
	offset  int64
	updated time.Time
}

func NewCursor(store storage.Store, now func() time.Time) *Cursor {
	if now == nil {
		now = time.Now
	}
	return &Cursor{store: store, now: now}
}

// Load replaces the in-memory offset with the persisted one.
func (c *Cursor) Load(ctx context.Context) (storage.State, error) {
	st, err := c.store.LoadState(ctx)
	if err != nil {
		return storage.State{}, fmt.Errorf("load state: %w", err)
	}
	c.mu.Lock()
	c.offset = max(st.Offset, 0)
	c.updated = st.LastUpdated
	c.mu.Unlock()
	return st, nil
}

func (c *Cursor) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Cursor) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

func (c *Cursor) Advance(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += int64(n)
	return c.saveLocked(ctx)
}

// Save persists the current offset.
func (c *Cursor) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx)
}

func (c *Cursor) saveLocked(ctx context.Context) error {
	st := storage.State{Offset: c.offset, LastUpdated: c.now().UTC()}
	if err := c.store.SaveState(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	c.updated = st.LastUpdated
	return nil
}
