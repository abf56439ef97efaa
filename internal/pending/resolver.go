package pending

import (
	"context"
	"sync/atomic"
	"time"

	"nftwatch/internal/nft"
	logx "nftwatch/pkg/logx"
)

// Source fetches item details.
type Source interface {
	GetItem(ctx context.Context, id string) (nft.Item, error)
}

// Ledger is the subset of the dedup ledger the resolver needs.
type Ledger interface {
	IsIgnored(id string) bool
	Ignore(id string)
	ShouldDeliver(ctx context.Context, id, tag string) bool
	// TryMark atomically claims (id, tag); false means do not enqueue.
	TryMark(ctx context.Context, id, tag string, at time.Time) bool
}

// Sink receives items promoted to delivery.
type Sink interface {
	Enqueue(ctx context.Context, it nft.Item)
}

type Config struct {
	MaxAge time.Duration
	Rules  nft.Rules
	// SkinFilter returns the active filter; nil means none.
	SkinFilter func() string
	Now        func() time.Time
}

// Summary counts the outcomes of one Tick.
type Summary struct {
	Checked      int `json:"checked"`
	Promoted     int `json:"promoted"`
	Expired      int `json:"expired"`
	Disqualified int `json:"disqualified"`
	Dropped      int `json:"dropped"`
	FetchFailed  int `json:"fetch_failed"`
	Remaining    int `json:"remaining"`
}

// Resolver re-checks pending items on its own tick.
type Resolver struct {
	set  *Set
	src  Source
	led  Ledger
	sink Sink
	cfg  Config
	log  logx.Logger

	busy atomic.Bool
}

func NewResolver(set *Set, src Source, led Ledger, sink Sink, cfg Config, log logx.Logger) *Resolver {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{set: set, src: src, led: led, sink: sink, cfg: cfg, log: log}
}

// Tick evaluates every pending entry once. A concurrent call returns
// immediately with ok=false.
func (r *Resolver) Tick(ctx context.Context) (sum Summary, ok bool) {
	if !r.busy.CompareAndSwap(false, true) {
		return sum, false
	}
	defer r.busy.Store(false)

	for _, e := range r.set.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		sum.Checked++
		r.resolve(ctx, e, &sum)
	}
	sum.Remaining = r.set.Len()
	if sum.Checked > 0 {
		r.log.Debug("pending resolved",
			logx.Int("checked", sum.Checked),
			logx.Int("promoted", sum.Promoted),
			logx.Int("expired", sum.Expired),
			logx.Int("disqualified", sum.Disqualified),
			logx.Int("fetch_failed", sum.FetchFailed),
			logx.Int("remaining", sum.Remaining),
		)
	}
	return sum, true
}

func (r *Resolver) resolve(ctx context.Context, e Entry, sum *Summary) {
	if r.led.IsIgnored(e.ID) {
		r.set.Remove(e.ID)
		sum.Dropped++
		return
	}
	if r.cfg.Now().Sub(e.FirstSeen) > r.cfg.MaxAge {
		r.set.Remove(e.ID)
		r.led.Ignore(e.ID)
		sum.Expired++
		r.log.Debug("pending expired", logx.ItemID(e.ID), logx.Time("first_seen", e.FirstSeen))
		return
	}

	it, err := r.src.GetItem(ctx, e.ID)
	if err != nil {
		sum.FetchFailed++
		r.log.Debug("pending fetch failed", logx.ItemID(e.ID), logx.Err(err))
		return
	}

	if reason, ok := r.cfg.Rules.Eligible(it); !ok {
		r.disqualify(e.ID, reason, sum)
		return
	}
	if r.cfg.SkinFilter != nil && !nft.SkinMatches(it, r.cfg.SkinFilter()) {
		r.disqualify(e.ID, "skin", sum)
		return
	}

	if !it.Sale.Priced {
		return
	}
	tag := it.Sale.Tag()
	if !r.led.ShouldDeliver(ctx, it.ID, tag) || !r.led.TryMark(ctx, it.ID, tag, r.cfg.Now()) {
		return
	}
	r.sink.Enqueue(ctx, it)
	r.set.Remove(e.ID)
	sum.Promoted++
}

func (r *Resolver) disqualify(id, reason string, sum *Summary) {
	r.set.Remove(id)
	r.led.Ignore(id)
	sum.Disqualified++
	r.log.Debug("pending disqualified", logx.ItemID(id), logx.String("reason", reason))
}
