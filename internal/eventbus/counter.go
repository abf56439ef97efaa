package eventbus

import (
	"context"
	"sync"
)

// Counter tallies events by type. The admin /status endpoint reads it.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewCounter() *Counter { return &Counter{counts: map[string]uint64{}} }

// Run consumes ch until it closes or ctx is done.
func (c *Counter) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Add(e.Type)
		}
	}
}

func (c *Counter) Add(typ string) {
	c.mu.Lock()
	c.counts[typ]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the tallies.
func (c *Counter) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
