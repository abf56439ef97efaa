package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "nftwatch/pkg/logx"
)

// Job is one tick. ctx is canceled on Stop and bounded by the task timeout.
type Job func(ctx context.Context) error

type task struct {
	name     string
	spec     string
	schedule cron.Schedule
	timeout  time.Duration
	job      Job
	entryID  cron.EntryID

	runs  atomic.Uint64
	skips atomic.Uint64
	fails atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastDur time.Duration
	lastErr string
}

// Service owns one cron instance. Tasks registered before Start are added
// when Start runs; Stop keeps definitions so a later Start resumes them.
type Service struct {
	mu    sync.Mutex
	log   logx.Logger
	loc   *time.Location
	c     *cron.Cron
	tasks map[string]*task

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, loc: time.UTC, tasks: map[string]*task{}}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Start begins triggering. Ticks run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, t := range s.tasks {
		s.registerLocked(t)
	}
	s.c.Start()
	s.log.Debug("scheduler started", logx.Int("tasks", len(s.tasks)))
}

// Stop cancels in-flight ticks and waits for them to return, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	for _, t := range s.tasks {
		t.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// AddInterval registers (or replaces) a fixed-interval tick.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("%s: interval must be > 0", name)
	}
	return s.add(name, "every "+every.String(), fixedInterval{every}, timeout, job)
}

// AddSchedule registers (or replaces) a tick from a ParseSchedule string.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job Job) error {
	sch, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return s.add(name, spec, sch, timeout, job)
}

func (s *Service) add(name, spec string, sch cron.Schedule, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	t := &task{name: name, spec: spec, schedule: sch, timeout: timeout, job: job}
	s.tasks[name] = t
	if s.c != nil {
		s.registerLocked(t)
	}
	return nil
}

// Remove unregisters a task by name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	delete(s.tasks, name)
	return true
}

func (s *Service) registerLocked(t *task) {
	tl := taskLogger{t: t, log: s.log.With(logx.String("task", t.name))}
	chain := cron.NewChain(cron.Recover(tl), cron.SkipIfStillRunning(tl))
	runCtx := s.runCtx
	t.entryID = s.c.Schedule(t.schedule, chain.Then(cron.FuncJob(func() { s.run(runCtx, t) })))
	s.log.Debug("task registered", logx.String("task", t.name), logx.String("spec", t.spec), logx.Duration("timeout", t.timeout))
}

func (s *Service) run(parent context.Context, t *task) {
	if parent.Err() != nil {
		return
	}
	ctx := parent
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.job(ctx)
	took := time.Since(start)

	t.runs.Add(1)
	t.mu.Lock()
	t.lastRun = start
	t.lastDur = took
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
	t.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		t.fails.Add(1)
		s.log.Warn("task failed", logx.String("task", t.name), logx.Duration("took", took), logx.Err(err))
	}
}

// TaskInfo is a point-in-time view of one task.
type TaskInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Runs    uint64        `json:"runs"`
	Skips   uint64        `json:"skips"`
	Fails   uint64        `json:"fails"`
	LastRun time.Time     `json:"last_run,omitempty"`
	LastDur time.Duration `json:"last_duration"`
	LastErr string        `json:"last_err,omitempty"`
}

func (s *Service) Snapshot() []TaskInfo {
	s.mu.Lock()
	c := s.c
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		it := TaskInfo{
			Name:    t.name,
			Spec:    t.spec,
			Timeout: t.timeout,
			Runs:    t.runs.Load(),
			Skips:   t.skips.Load(),
			Fails:   t.fails.Load(),
		}
		if c != nil && t.entryID != 0 {
			e := c.Entry(t.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		t.mu.Lock()
		it.LastRun, it.LastDur, it.LastErr = t.lastRun, t.lastDur, t.lastErr
		t.mu.Unlock()
		out = append(out, it)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// taskLogger adapts logx to cron.Logger and counts SkipIfStillRunning skips.
type taskLogger struct {
	t   *task
	log logx.Logger
}

func (l taskLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.t.skips.Add(1)
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l taskLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
