package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by a closed store.
var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", state lives in memory only.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeyPrefix   string        // redis only
}

// State is the persisted watcher position.
type State struct {
	Offset      int64     `json:"offset"`
	LastUpdated time.Time `json:"last_updated"`
}

// DeliveryRecord is one send outcome.
type DeliveryRecord struct {
	ID     string    `json:"id"`
	ItemID string    `json:"item_id"`
	Tag    string    `json:"tag"`
	Name   string    `json:"name,omitempty"`
	Power  int       `json:"power"`
	Price  string    `json:"price,omitempty"`
	At     time.Time `json:"at"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// Store is the persistence API used by the watcher and the admin service.
type Store interface {
	// LoadState returns the zero State when nothing was saved yet.
	LoadState(ctx context.Context) (State, error)
	// SaveState must never leave a partially written state behind.
	SaveState(ctx context.Context, s State) error
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	Driver() string
	Close() error
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultRecentLimit
	}
	return min(n, maxRecentLimit)
}
