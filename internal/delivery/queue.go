// Package delivery owns the FIFO of items waiting to be posted and the single
// consumer that drains it at a fixed pace.
package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nftwatch/internal/eventbus"
	"nftwatch/internal/nft"
	"nftwatch/internal/scoring"
	"nftwatch/internal/storage"
	logx "nftwatch/pkg/logx"
)

// DefaultPacing is the pause after each send, measured from when the send
// returns.
const DefaultPacing = time.Second

// Job is one queued item with its score.
type Job struct {
	Item       nft.Item
	Score      scoring.Result
	Key        string
	EnqueuedAt time.Time
}

// Sender posts one job. A returned error drops the job.
type Sender interface {
	Send(ctx context.Context, j Job) error
}

type SenderFunc func(ctx context.Context, j Job) error

func (f SenderFunc) Send(ctx context.Context, j Job) error { return f(ctx, j) }

// Journal records send outcomes; storage.Store satisfies it.
type Journal interface {
	AppendDelivery(ctx context.Context, r storage.DeliveryRecord) error
}

type Options struct {
	Pacing  time.Duration
	Journal Journal
	Bus     eventbus.Bus
	Now     func() time.Time
}

type Stats struct {
	Queued     int       `json:"queued"`
	Delivered  uint64    `json:"delivered"`
	Failed     uint64    `json:"failed"`
	LastSendAt time.Time `json:"last_send_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Sending    bool      `json:"sending"`
}

type Queue struct {
	sender  Sender
	journal Journal
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time
	pacing  atomic.Int64

	mu    sync.Mutex
	items []Job

	sending atomic.Bool

	delivered atomic.Uint64
	failed    atomic.Uint64

	statMu   sync.Mutex
	lastSend time.Time
	lastErr  string
}

func NewQueue(sender Sender, opt Options, log logx.Logger) *Queue {
	if opt.Pacing <= 0 {
		opt.Pacing = DefaultPacing
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		sender:  sender,
		journal: opt.Journal,
		bus:     opt.Bus,
		log:     log,
		now:     opt.Now,
	}
	q.pacing.Store(int64(opt.Pacing))
	return q
}

// SetPacing changes the pause between sends.
func (q *Queue) SetPacing(d time.Duration) {
	if d <= 0 {
		return
	}
	q.pacing.Store(int64(d))
}

// pause sleeps one pacing interval. It fails only when ctx ends first.
func (q *Queue) pause(ctx context.Context) error {
	t := time.NewTimer(time.Duration(q.pacing.Load()))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push appends a job. Safe for any number of producers.
func (q *Queue) Push(j Job) {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = q.now()
	}
	if j.Key == "" {
		j.Key = j.Item.DedupKey()
	}
	q.mu.Lock()
	q.items = append(q.items, j)
	n := len(q.items)
	q.mu.Unlock()

	eventbus.PublishSafe(q.bus, eventbus.ItemQueued, map[string]any{"item": j.Item.ID, "key": j.Key, "queued": n})
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued job and returns how many.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Job{}, false
	}
	j := q.items[0]
	q.items[0] = Job{}
	q.items = q.items[1:]
	return j, true
}

func (q *Queue) unshift(j Job) {
	q.mu.Lock()
	q.items = append([]Job{j}, q.items...)
	q.mu.Unlock()
}

// Drain sends queued jobs in FIFO order until the queue is empty or ctx ends.
// Jobs pushed while draining are picked up by the same call. A concurrent
// Drain returns immediately with ok=false.
func (q *Queue) Drain(ctx context.Context) (sent, failed int, ok bool) {
	if !q.sending.CompareAndSwap(false, true) {
		return 0, 0, false
	}
	defer q.sending.Store(false)

	for {
		j, have := q.pop()
		if !have {
			return sent, failed, true
		}
		if ctx.Err() != nil {
			// Not sent; keep it for the next drain.
			q.unshift(j)
			return sent, failed, true
		}
		if q.deliver(ctx, j) {
			sent++
		} else {
			failed++
		}
		// The sending flag is held through the pause so a job pushed right
		// after this one still waits a full interval.
		if err := q.pause(ctx); err != nil {
			return sent, failed, true
		}
	}
}

func (q *Queue) deliver(ctx context.Context, j Job) bool {
	start := q.now()
	err := q.sender.Send(ctx, j)

	rec := storage.DeliveryRecord{
		ID:     uuid.NewString(),
		ItemID: j.Item.ID,
		Tag:    j.Item.Sale.Tag(),
		Name:   j.Item.DisplayName,
		Power:  j.Score.Total(),
		At:     start,
		OK:     err == nil,
	}
	if j.Item.Sale.Priced {
		rec.Price = nft.FormatTON(j.Item.Sale.Nano)
	}

	if err != nil {
		rec.Error = err.Error()
		q.failed.Add(1)
		q.statMu.Lock()
		q.lastErr = rec.Error
		q.statMu.Unlock()
		// The dedup key stays marked; a failed item is not retried.
		q.log.Warn("delivery failed, dropping item", logx.ItemID(j.Item.ID), logx.String("key", j.Key), logx.Err(err))
		eventbus.PublishSafe(q.bus, eventbus.ItemFailed, map[string]any{"item": j.Item.ID, "key": j.Key, "err": rec.Error})
	} else {
		q.delivered.Add(1)
		q.statMu.Lock()
		q.lastSend = start
		q.statMu.Unlock()
		q.log.Info("item delivered",
			logx.ItemID(j.Item.ID),
			logx.String("name", j.Item.DisplayName),
			logx.String("tag", rec.Tag),
			logx.Int("power", rec.Power),
			logx.Duration("queued_for", start.Sub(j.EnqueuedAt)),
		)
		eventbus.PublishSafe(q.bus, eventbus.ItemDelivered, map[string]any{"item": j.Item.ID, "key": j.Key, "power": rec.Power})
	}

	if q.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if jerr := q.journal.AppendDelivery(jctx, rec); jerr != nil {
			q.log.Debug("journal append failed", logx.Err(jerr))
		}
		cancel()
	}
	return err == nil
}

// LastSendAt is the start time of the most recent successful send.
func (q *Queue) LastSendAt() time.Time {
	q.statMu.Lock()
	defer q.statMu.Unlock()
	return q.lastSend
}

func (q *Queue) Stats() Stats {
	q.statMu.Lock()
	last, lastErr := q.lastSend, q.lastErr
	q.statMu.Unlock()
	return Stats{
		Queued:     q.Len(),
		Delivered:  q.delivered.Load(),
		Failed:     q.failed.Load(),
		LastSendAt: last,
		LastError:  lastErr,
		Sending:    q.sending.Load(),
	}
}
