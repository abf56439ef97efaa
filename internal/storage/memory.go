package storage

import (
	"context"
	"sync"
)

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.Mutex
	state  State
	recent []DeliveryRecord
	closed bool
}

func NewMemory() Store { return &memoryStore{} }

func (m *memoryStore) Driver() string { return "none" }

func (m *memoryStore) LoadState(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return State{}, ErrDisabled
	}
	return m.state, nil
}

func (m *memoryStore) SaveState(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.state = s
	return nil
}

func (m *memoryStore) AppendDelivery(_ context.Context, r DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.recent = append(m.recent, r)
	if len(m.recent) > maxRecentLimit {
		m.recent = append([]DeliveryRecord(nil), m.recent[len(m.recent)-maxRecentLimit:]...)
	}
	return nil
}

func (m *memoryStore) RecentDeliveries(_ context.Context, limit int) ([]DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisabled
	}
	return newestFirst(m.recent, clampLimit(limit)), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// newestFirst copies up to limit trailing records in reverse order.
func newestFirst(in []DeliveryRecord, limit int) []DeliveryRecord {
	n := min(limit, len(in))
	out := make([]DeliveryRecord, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}
