package watcher

import (
	"context"
	"time"

	"nftwatch/internal/detector"
	"nftwatch/internal/pending"
	"nftwatch/internal/task/scheduler"
)

type Intervals struct {
	Poll    string `json:"poll"`
	Resolve string `json:"resolve"`
	Drain   string `json:"drain"`
}

// Status is a read-only snapshot of the controller.
type Status struct {
	Running    bool      `json:"running"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Offset     int64     `json:"offset"`
	Pending    int       `json:"pending"`
	Ignored    int       `json:"ignored"`
	SentKeys   int       `json:"sent_keys"`
	QueueLen   int       `json:"queue_len"`
	Delivered  uint64    `json:"delivered"`
	Failed     uint64    `json:"failed"`
	LastSendAt time.Time `json:"last_send_at,omitempty"`
	SkinFilter string    `json:"skin_filter,omitempty"`
	Collection string    `json:"collection,omitempty"`
	Intervals  Intervals `json:"intervals"`

	Restarts    uint64               `json:"restarts"`
	LedgerTTL   time.Duration        `json:"ledger_ttl"`
	LastPoll    detector.Summary     `json:"last_poll"`
	LastResolve pending.Summary      `json:"last_resolve"`
	Tasks       []scheduler.TaskInfo `json:"tasks,omitempty"`
}

// Status never blocks on Start or Stop.
func (c *Controller) Status() Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info := c.run.Load()
	cfg := *c.cfg.Load()
	if info != nil {
		cfg = info.cfg
	}
	qs := c.d.Queue.Stats()
	ls := c.d.Ledger.Stats(ctx)

	st := Status{
		Running:    info != nil,
		Offset:     c.cursor.Offset(),
		Pending:    c.pend.Len(),
		Ignored:    ls.Ignored,
		SentKeys:   ls.Sent,
		QueueLen:   qs.Queued,
		Delivered:  qs.Delivered,
		Failed:     qs.Failed,
		LastSendAt: qs.LastSendAt,
		SkinFilter: c.SkinFilter(),
		Collection: collectionLabel(cfg),
		Intervals: Intervals{
			Poll:    cfg.PollInterval.String(),
			Resolve: cfg.ResolveInterval.String(),
			Drain:   cfg.DrainInterval.String(),
		},
		Restarts:  c.restarts.Load(),
		LedgerTTL: ls.TTL,
	}
	if info != nil {
		st.RunID = info.ID
		st.StartedAt = info.StartedAt
		st.Tasks = info.sched.Snapshot()
	}
	c.statMu.Lock()
	st.LastPoll, st.LastResolve = c.lastPoll, c.lastResolve
	c.statMu.Unlock()
	return st
}

func collectionLabel(cfg Config) string {
	if cfg.Rules.CollectionName != "" {
		return cfg.Rules.CollectionName
	}
	return cfg.Rules.CollectionAddress
}
