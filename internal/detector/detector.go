// Package detector runs the poll tick: list recent ids, resolve each one and
// route it to the ignore set, the pending set or the delivery sink.
package detector

import (
	"context"
	"sync/atomic"
	"time"

	"nftwatch/internal/nft"
	"nftwatch/internal/pending"
	logx "nftwatch/pkg/logx"
)

// Lister returns recent candidate ids in indexer order.
type Lister interface {
	ListRecentItems(ctx context.Context, offset int64, limit int) ([]string, error)
	GetItem(ctx context.Context, id string) (nft.Item, error)
	// Paged reports whether offsets are meaningful.
	Paged() bool
}

// Cursor owns the persisted offset.
type Cursor interface {
	Offset() int64
	Advance(ctx context.Context, n int) error
}

type Config struct {
	Limit      int
	Rules      nft.Rules
	SkinFilter func() string
	Now        func() time.Time
}

// Summary counts the outcomes of one Tick.
type Summary struct {
	Listed     int   `json:"listed"`
	Ignored    int   `json:"ignored"`
	Rejected   int   `json:"rejected"`
	Filtered   int   `json:"filtered"`
	Duplicate  int   `json:"duplicate"`
	Pending    int   `json:"pending"`
	Queued     int   `json:"queued"`
	Failed     int   `json:"failed"`
	Advanced   int   `json:"advanced"`
	Offset     int64 `json:"offset"`
	ListFailed bool  `json:"list_failed,omitempty"`
}

type Detector struct {
	src     Lister
	led     pending.Ledger
	pend    *pending.Set
	sink    pending.Sink
	cursor  Cursor
	cfg     Config
	log     logx.Logger
	running atomic.Bool
}

func New(src Lister, led pending.Ledger, pend *pending.Set, sink pending.Sink, cursor Cursor, cfg Config, log logx.Logger) *Detector {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	cfg.Limit = min(cfg.Limit, 10)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{src: src, led: led, pend: pend, sink: sink, cursor: cursor, cfg: cfg, log: log}
}

// Tick runs one poll. It returns ok=false when a previous Tick is still running.
func (d *Detector) Tick(ctx context.Context) (sum Summary, ok bool) {
	if !d.running.CompareAndSwap(false, true) {
		return sum, false
	}
	defer d.running.Store(false)

	var offset int64
	if d.cursor != nil {
		offset = d.cursor.Offset()
	}
	ids, err := d.src.ListRecentItems(ctx, offset, d.cfg.Limit)
	if err != nil {
		sum.ListFailed = true
		sum.Offset = offset
		d.log.Warn("list recent items failed", logx.Int64("offset", offset), logx.Err(err))
		return sum, true
	}
	sum.Listed = len(ids)

	// completed stops growing at the first fetch failure so the cursor never
	// skips an id that was not processed.
	completed, blocked := 0, false
	for _, id := range ids {
		if ctx.Err() != nil {
			blocked = true
			break
		}
		if d.handle(ctx, id, &sum) {
			if !blocked {
				completed++
			}
		} else {
			blocked = true
		}
	}

	sum.Offset = offset
	if d.cursor != nil && d.src.Paged() && completed > 0 {
		if err := d.cursor.Advance(ctx, completed); err != nil {
			d.log.Warn("cursor advance failed", logx.Int("n", completed), logx.Err(err))
		} else {
			sum.Advanced = completed
			sum.Offset = d.cursor.Offset()
		}
	}

	if sum.Listed > 0 {
		d.log.Debug("poll done",
			logx.Int("listed", sum.Listed),
			logx.Int("queued", sum.Queued),
			logx.Int("pending", sum.Pending),
			logx.Int("ignored", sum.Ignored),
			logx.Int("rejected", sum.Rejected),
			logx.Int("filtered", sum.Filtered),
			logx.Int("duplicate", sum.Duplicate),
			logx.Int("failed", sum.Failed),
			logx.Int64("offset", sum.Offset),
		)
	}
	return sum, true
}

// handle processes one id and reports whether processing completed.
func (d *Detector) handle(ctx context.Context, id string, sum *Summary) bool {
	if d.led.IsIgnored(id) {
		sum.Ignored++
		return true
	}
	it, err := d.src.GetItem(ctx, id)
	if err != nil {
		sum.Failed++
		d.log.Debug("item fetch failed", logx.ItemID(id), logx.Err(err))
		return false
	}
	if reason, ok := d.cfg.Rules.Eligible(it); !ok {
		d.led.Ignore(id)
		sum.Rejected++
		d.log.Trace("item rejected", logx.ItemID(id), logx.String("reason", reason))
		return true
	}
	if d.cfg.SkinFilter != nil && !nft.SkinMatches(it, d.cfg.SkinFilter()) {
		sum.Filtered++
		return true
	}

	tag := it.Sale.Tag()
	if !d.led.ShouldDeliver(ctx, it.ID, tag) {
		sum.Duplicate++
		return true
	}
	if !it.Sale.Priced {
		if d.pend.Add(it.ID, d.cfg.Now()) {
			sum.Pending++
			d.log.Debug("item pending", logx.ItemID(it.ID))
		}
		return true
	}

	// The resolver may be promoting the same id right now; only the caller
	// that wins the reservation enqueues.
	if !d.led.TryMark(ctx, it.ID, tag, d.cfg.Now()) {
		sum.Duplicate++
		return true
	}
	d.sink.Enqueue(ctx, it)
	d.pend.Remove(it.ID)
	sum.Queued++
	return true
}
