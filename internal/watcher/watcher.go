// Package watcher owns the detection pipeline timers and their lifecycle.
//
// A Controller wires the detector, the pending resolver and the delivery
// queue to one scheduler per run. Start loads the persisted offset, Stop
// waits for in-flight ticks and writes the offset back. An optional watchdog
// restarts a run that has gone silent for too long.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nftwatch/internal/delivery"
	"nftwatch/internal/detector"
	"nftwatch/internal/eventbus"
	"nftwatch/internal/ledger"
	"nftwatch/internal/nft"
	"nftwatch/internal/notifier"
	"nftwatch/internal/pending"
	rtsup "nftwatch/internal/runtime/supervisor"
	"nftwatch/internal/scoring"
	"nftwatch/internal/storage"
	"nftwatch/internal/task/scheduler"
	logx "nftwatch/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("watcher already running")
	ErrNotRunning     = errors.New("watcher not running")
)

const (
	taskPoll     = "watch.poll"
	taskResolve  = "watch.resolve"
	taskDrain    = "watch.drain"
	taskWatchdog = "watch.watchdog"
	taskCompact  = "watch.compact"
)

// Config is read on Start; changes apply to the next run.
type Config struct {
	PollInterval    time.Duration
	ResolveInterval time.Duration
	DrainInterval   time.Duration
	MaxPendingTime  time.Duration
	ListLimit       int
	Rules           nft.Rules

	Watchdog WatchdogConfig
	// CompactSchedule is a scheduler spec ("every:10m", cron). Empty disables compaction.
	CompactSchedule string
}

type WatchdogConfig struct {
	Enabled  bool
	Silence  time.Duration
	Interval time.Duration
}

func (c *Config) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = time.Second
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 500 * time.Millisecond
	}
	if c.MaxPendingTime <= 0 {
		c.MaxPendingTime = pending.DefaultMaxAge
	}
	if c.Watchdog.Silence <= 0 {
		c.Watchdog.Silence = 30 * time.Minute
	}
	if c.Watchdog.Interval <= 0 {
		c.Watchdog.Interval = time.Minute
	}
}

// Lifecycle receives user-visible watcher messages.
// *notifier.Service implements it.
type Lifecycle interface {
	Notify(ctx context.Context, level notifier.Level, text string) error
}

type Deps struct {
	Source detector.Lister
	Ledger *ledger.Ledger
	Queue  *delivery.Queue
	Scores *scoring.Store
	Store  storage.Store

	Bus       eventbus.Bus
	Lifecycle Lifecycle
	// Supervisor hosts watchdog restarts. A private one is created when nil.
	Supervisor *rtsup.Supervisor
	Now        func() time.Time
}

type runInfo struct {
	ID        string
	StartedAt time.Time
	cfg       Config
	sched     *scheduler.Service
}

// Controller serializes Start and Stop behind mu. Ticks and Status never
// take mu, so Stop can wait for in-flight ticks while holding it.
type Controller struct {
	mu  sync.Mutex
	cfg atomic.Pointer[Config]

	d      Deps
	log    logx.Logger
	pend   *pending.Set
	cursor *Cursor

	run  atomic.Pointer[runInfo]
	skin atomic.Pointer[string]

	ownSup     bool
	restarting atomic.Bool
	restarts   atomic.Uint64

	statMu      sync.Mutex
	lastPoll    detector.Summary
	lastResolve pending.Summary
}

func New(cfg Config, d Deps, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	ownSup := d.Supervisor == nil
	if ownSup {
		d.Supervisor = rtsup.NewSupervisor(context.Background(), rtsup.WithName("watcher"), rtsup.WithLogger(log))
	}
	if d.Store == nil {
		d.Store = storage.NewMemory()
	}
	cfg.normalize()
	c := &Controller{
		d:      d,
		log:    log,
		pend:   pending.NewSet(),
		cursor: NewCursor(d.Store, d.Now),
		ownSup: ownSup,
	}
	empty := ""
	c.skin.Store(&empty)
	c.cfg.Store(&cfg)
	return c
}

// Apply replaces the config used by the next Start.
func (c *Controller) Apply(cfg Config) {
	cfg.normalize()
	c.cfg.Store(&cfg)
}

func (c *Controller) Running() bool { return c.run.Load() != nil }

// Supervisor runs watchdog restarts.
func (c *Controller) Supervisor() *rtsup.Supervisor { return c.d.Supervisor }

// SetSkinFilter sets the Skin Tone filter. Empty clears it. It applies to
// the next tick, even while running.
func (c *Controller) SetSkinFilter(v string) {
	v = strings.TrimSpace(v)
	c.skin.Store(&v)
	c.log.Info("skin filter set", logx.String("skin", v))
}

func (c *Controller) SkinFilter() string { return *c.skin.Load() }

// Pending exposes the pending set, mostly for tests and status.
func (c *Controller) Pending() *pending.Set { return c.pend }

// Start loads the persisted offset and registers the run timers.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.Load() != nil {
		return ErrAlreadyRunning
	}
	if err := c.startLocked(ctx); err != nil {
		c.log.Error("watcher start failed", logx.Err(err))
		c.announce(notifier.LevelError, "Watcher failed to start: "+err.Error())
		return err
	}
	return nil
}

func (c *Controller) startLocked(ctx context.Context) error {
	st, err := c.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	cfg := *c.cfg.Load()
	now := c.d.Now
	sink := scoredSink{q: c.d.Queue, scores: c.d.Scores, now: now}
	det := detector.New(c.d.Source, c.d.Ledger, c.pend, sink, c.cursor, detector.Config{
		Limit:      cfg.ListLimit,
		Rules:      cfg.Rules,
		SkinFilter: c.SkinFilter,
		Now:        now,
	}, c.log.With(logx.String("comp", "detector")))
	res := pending.NewResolver(c.pend, c.d.Source, c.d.Ledger, sink, pending.Config{
		MaxAge:     cfg.MaxPendingTime,
		Rules:      cfg.Rules,
		SkinFilter: c.SkinFilter,
		Now:        now,
	}, c.log.With(logx.String("comp", "pending")))

	sched := scheduler.New(c.log.With(logx.String("comp", "watch.scheduler")))
	add := func(name string, every time.Duration, job scheduler.Job) error {
		return sched.AddInterval(name, every, 0, job)
	}
	if err := add(taskPoll, cfg.PollInterval, func(ctx context.Context) error {
		if sum, ok := det.Tick(ctx); ok {
			c.statMu.Lock()
			c.lastPoll = sum
			c.statMu.Unlock()
		}
		return nil
	}); err != nil {
		return err
	}
	if err := add(taskResolve, cfg.ResolveInterval, func(ctx context.Context) error {
		if sum, ok := res.Tick(ctx); ok && sum.Checked > 0 {
			c.statMu.Lock()
			c.lastResolve = sum
			c.statMu.Unlock()
		}
		return nil
	}); err != nil {
		return err
	}
	if err := add(taskDrain, cfg.DrainInterval, func(ctx context.Context) error {
		c.d.Queue.Drain(ctx)
		return nil
	}); err != nil {
		return err
	}
	if cfg.Watchdog.Enabled {
		if err := add(taskWatchdog, cfg.Watchdog.Interval, func(ctx context.Context) error {
			c.watchdogTick()
			return nil
		}); err != nil {
			return err
		}
	}
	if spec := strings.TrimSpace(cfg.CompactSchedule); spec != "" {
		if err := sched.AddSchedule(taskCompact, spec, 30*time.Second, func(ctx context.Context) error {
			if n := c.d.Ledger.Compact(ctx, now()); n > 0 {
				c.log.Debug("ledger compacted", logx.Int("removed", n))
			}
			return nil
		}); err != nil {
			return err
		}
	}

	info := &runInfo{ID: uuid.NewString(), StartedAt: now(), cfg: cfg, sched: sched}
	sched.Start(c.d.Supervisor.Context())
	c.run.Store(info)

	c.log.Info("watcher started",
		logx.String("run_id", info.ID),
		logx.Int64("offset", st.Offset),
		logx.Duration("poll", cfg.PollInterval),
		logx.Duration("resolve", cfg.ResolveInterval),
		logx.Duration("drain", cfg.DrainInterval),
	)
	eventbus.PublishSafe(c.d.Bus, eventbus.WatcherStarted, map[string]any{"run_id": info.ID, "offset": st.Offset})
	c.announce(notifier.LevelInfo, fmt.Sprintf("▶️ Watcher started (offset %d)", st.Offset))
	return nil
}

// Stop halts every timer, waits for in-flight ticks (bounded by ctx) and
// persists the offset. Pending entries are dropped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, true)
}

func (c *Controller) stopLocked(ctx context.Context, announce bool) error {
	info := c.run.Load()
	if info == nil {
		return ErrNotRunning
	}
	if err := info.sched.Stop(ctx); err != nil {
		c.log.Warn("watcher timers did not stop in time", logx.Err(err))
	}
	c.run.Store(nil)

	// Saving must not depend on the caller's deadline having room left.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	saveErr := c.cursor.Save(sctx)
	dropped := c.pend.Clear()

	offset := c.cursor.Offset()
	c.log.Info("watcher stopped",
		logx.String("run_id", info.ID),
		logx.Int64("offset", offset),
		logx.Int("pending_dropped", dropped),
		logx.Duration("uptime", c.d.Now().Sub(info.StartedAt)),
	)
	eventbus.PublishSafe(c.d.Bus, eventbus.WatcherStopped, map[string]any{"run_id": info.ID, "offset": offset})
	if announce {
		c.announce(notifier.LevelInfo, fmt.Sprintf("⏹ Watcher stopped (offset %d)", offset))
	}
	if saveErr != nil {
		return fmt.Errorf("watcher: %w", saveErr)
	}
	return nil
}

// Restart stops and starts the watcher. The new run re-reads the persisted offset.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stopLocked(ctx, false); err != nil && !errors.Is(err, ErrNotRunning) {
		c.log.Warn("restart: stop failed", logx.Err(err))
	}
	return c.startLocked(ctx)
}

// watchdogTick schedules a restart when the run has been silent too long.
// The restart runs on the supervisor because Stop waits for this tick.
func (c *Controller) watchdogTick() {
	info := c.run.Load()
	if info == nil {
		return
	}
	since := info.StartedAt
	if last := c.d.Queue.LastSendAt(); last.After(since) {
		since = last
	}
	silent := c.d.Now().Sub(since)
	if silent < info.cfg.Watchdog.Silence {
		return
	}
	if !c.restarting.CompareAndSwap(false, true) {
		return
	}
	c.log.Warn("watchdog: no deliveries, restarting", logx.Duration("silent", silent), logx.String("run_id", info.ID))
	c.d.Supervisor.Go("watchdog.restart", func(ctx context.Context) error {
		defer c.restarting.Store(false)
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := c.Restart(rctx); err != nil {
			c.announce(notifier.LevelError, "Watchdog restart failed: "+err.Error())
			return err
		}
		c.restarts.Add(1)
		eventbus.PublishSafe(c.d.Bus, eventbus.WatcherRestarted, map[string]any{"silent": silent.String()})
		c.announce(notifier.LevelWarn, fmt.Sprintf("Watchdog restarted the watcher after %s without deliveries", silent.Round(time.Second)))
		return nil
	})
}

func (c *Controller) announce(level notifier.Level, text string) {
	if c.d.Lifecycle == nil {
		return
	}
	if err := c.d.Lifecycle.Notify(context.Background(), level, text); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		c.log.Debug("lifecycle message not queued", logx.Err(err))
	}
}

// Close stops a running watcher and, when it owns one, the supervisor
// hosting restarts.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	if errors.Is(err, ErrNotRunning) {
		err = nil
	}
	if c.ownSup {
		if werr := c.d.Supervisor.Stop(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	return err
}
