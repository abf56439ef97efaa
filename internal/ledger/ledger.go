// Package ledger tracks which (item, sale state) pairs were already delivered
// and which items are ignored for the rest of the process lifetime.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"nftwatch/internal/nft"
	logx "nftwatch/pkg/logx"
)

// DefaultTTL is how long a delivered key suppresses repeats.
const DefaultTTL = 10 * time.Minute

// Backend stores sent keys. Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	SentAt(ctx context.Context, key string) (time.Time, bool, error)
	Mark(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// Reserve marks key at at unless an entry younger than ttl exists, as one
	// atomic step. It reports whether the mark was written.
	Reserve(ctx context.Context, key string, at time.Time, ttl time.Duration) (bool, error)
	// Compact removes entries sent before cutoff and returns how many.
	Compact(ctx context.Context, cutoff time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(l *Ledger) {
		if !log.IsZero() {
			l.log = log
		}
	}
}

// Ledger combines the sent map (via Backend) with the in-memory ignore set.
type Ledger struct {
	b   Backend
	log logx.Logger
	now func() time.Time

	mu  sync.RWMutex
	ttl time.Duration

	ignMu   sync.RWMutex
	ignored map[string]struct{}
}

func New(b Backend, ttl time.Duration, opts ...Option) *Ledger {
	if b == nil {
		b = NewMemory()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Ledger{b: b, ttl: ttl, log: logx.Nop(), now: time.Now, ignored: map[string]struct{}{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) TTL() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ttl
}

// SetTTL applies to lookups and marks made after the call.
func (l *Ledger) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	l.ttl = ttl
	l.mu.Unlock()
}

// ShouldDeliver is true unless a non-expired entry exists for (id, tag).
// Backend errors are logged and answered with false so the item is retried
// on a later tick instead of risking a duplicate.
func (l *Ledger) ShouldDeliver(ctx context.Context, id, tag string) bool {
	key := nft.DedupKey(id, tag)
	at, ok, err := l.b.SentAt(ctx, key)
	if err != nil {
		l.log.Warn("ledger lookup failed", logx.ItemID(id), logx.String("tag", tag), logx.Err(err))
		return false
	}
	if !ok {
		return true
	}
	return l.now().Sub(at) > l.TTL()
}

func (l *Ledger) MarkDelivered(ctx context.Context, id, tag string, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	if err := l.b.Mark(ctx, nft.DedupKey(id, tag), at, l.TTL()); err != nil {
		l.log.Warn("ledger mark failed", logx.ItemID(id), logx.String("tag", tag), logx.Err(err))
		return err
	}
	return nil
}

// TryMark claims (id, tag) for delivery. Exactly one of several concurrent
// callers wins; the rest, and every caller on a backend error, get false and
// must not enqueue the item.
func (l *Ledger) TryMark(ctx context.Context, id, tag string, at time.Time) bool {
	if at.IsZero() {
		at = l.now()
	}
	ok, err := l.b.Reserve(ctx, nft.DedupKey(id, tag), at, l.TTL())
	if err != nil {
		l.log.Warn("ledger reserve failed", logx.ItemID(id), logx.String("tag", tag), logx.Err(err))
		return false
	}
	return ok
}

func (l *Ledger) IsIgnored(id string) bool {
	l.ignMu.RLock()
	defer l.ignMu.RUnlock()
	_, ok := l.ignored[nft.NormalizeID(id)]
	return ok
}

func (l *Ledger) Ignore(id string) {
	k := nft.NormalizeID(id)
	if k == "" {
		return
	}
	l.ignMu.Lock()
	l.ignored[k] = struct{}{}
	l.ignMu.Unlock()
}

// ClearIgnored empties the ignore set and returns how many ids it held.
func (l *Ledger) ClearIgnored() int {
	l.ignMu.Lock()
	defer l.ignMu.Unlock()
	n := len(l.ignored)
	l.ignored = map[string]struct{}{}
	return n
}

func (l *Ledger) IgnoredCount() int {
	l.ignMu.RLock()
	defer l.ignMu.RUnlock()
	return len(l.ignored)
}

// Compact drops sent entries that are already expired at now.
func (l *Ledger) Compact(ctx context.Context, now time.Time) int {
	n, err := l.b.Compact(ctx, now.Add(-l.TTL()))
	if err != nil {
		l.log.Warn("ledger compact failed", logx.String("backend", l.b.Name()), logx.Err(err))
	}
	if n > 0 {
		l.log.Debug("ledger compacted", logx.Int("removed", n))
	}
	return n
}

type Stats struct {
	Backend string        `json:"backend"`
	Sent    int           `json:"sent_keys"`
	Ignored int           `json:"ignored"`
	TTL     time.Duration `json:"ttl"`
}

func (l *Ledger) Stats(ctx context.Context) Stats {
	n, err := l.b.Len(ctx)
	if err != nil {
		n = -1
	}
	return Stats{Backend: l.b.Name(), Sent: n, Ignored: l.IgnoredCount(), TTL: l.TTL()}
}

func (l *Ledger) Close() error { return l.b.Close() }

// Memory is the default in-process backend.
type Memory struct {
	mu   sync.Mutex
	sent map[string]time.Time
}

func NewMemory() *Memory { return &Memory{sent: map[string]time.Time{}} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) SentAt(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.sent[key]
	return at, ok, nil
}

func (m *Memory) Mark(_ context.Context, key string, at time.Time, _ time.Duration) error {
	m.mu.Lock()
	m.sent[key] = at
	m.mu.Unlock()
	return nil
}

func (m *Memory) Reserve(_ context.Context, key string, at time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sent[key]; ok && at.Sub(prev) <= ttl {
		return false, nil
	}
	m.sent[key] = at
	return true, nil
}

func (m *Memory) Compact(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, at := range m.sent {
		if at.Before(cutoff) {
			delete(m.sent, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent), nil
}

func (m *Memory) Close() error { return nil }

// normalizePrefix guarantees a trailing colon.
func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "nftwatch"
	}
	if !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}
