package config

import (
	"errors"
	"fmt"
	"strings"

	"nftwatch/internal/task/scheduler"
)

// Validate reports every problem found in cfg at once.
// It is used at startup and as the hot-reload gate.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if cfg.Telegram.TargetChat == 0 {
		add(errors.New("telegram.target_chat is required"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	ix := cfg.Indexer
	dur("indexer.timeout", ix.Timeout)
	dur("indexer.backoff.base", ix.Backoff.Base)
	dur("indexer.backoff.warn_interval", ix.Backoff.WarnInterval)
	switch strings.ToLower(strings.TrimSpace(ix.Source)) {
	case "", "history":
		if strings.TrimSpace(ix.Account) == "" {
			add(errors.New("indexer.account is required for source=history"))
		}
	case "collection":
		if strings.TrimSpace(ix.Collection) == "" {
			add(errors.New("indexer.collection is required for source=collection"))
		}
	default:
		add(fmt.Errorf("indexer.source: unknown value %q", ix.Source))
	}
	switch strings.ToLower(strings.TrimSpace(ix.Backoff.Mode)) {
	case "", "linear", "exponential":
	default:
		add(fmt.Errorf("indexer.backoff.mode: unknown value %q", ix.Backoff.Mode))
	}
	if ix.ListLimit < 0 || ix.ListLimit > 10 {
		add(fmt.Errorf("indexer.list_limit must be within 1..10, got %d", ix.ListLimit))
	}
	if ix.Backoff.MaxAttempts < 0 {
		add(errors.New("indexer.backoff.max_attempts must be >= 0"))
	}

	w := cfg.Watcher
	if strings.TrimSpace(w.CollectionName) == "" {
		add(errors.New("watcher.collection_name is required"))
	}
	dur("watcher.poll_interval", w.PollInterval)
	dur("watcher.resolve_interval", w.ResolveInterval)
	dur("watcher.drain_interval", w.DrainInterval)
	dur("watcher.send_pacing", w.SendPacing)
	dur("watcher.sent_ttl", w.SentTTL)
	dur("watcher.max_pending_time", w.MaxPendingTime)
	dur("watcher.watchdog.silence", w.Watchdog.Silence)
	dur("watcher.watchdog.interval", w.Watchdog.Interval)

	if cfg.Caption.MaxLen < 0 || cfg.Caption.MaxLen > 1024 {
		add(fmt.Errorf("caption.max_len must be within 1..1024, got %d", cfg.Caption.MaxLen))
	}

	if l := cfg.Ledger; l != nil {
		if raw := strings.TrimSpace(l.CompactInterval); raw != "" {
			if _, err := scheduler.ParseSchedule(raw); err != nil {
				add(fmt.Errorf("ledger.compact_interval: %w", err))
			}
		}
		switch strings.ToLower(strings.TrimSpace(l.Backend)) {
		case "", "memory":
		case "redis":
			if strings.TrimSpace(l.RedisAddr) == "" {
				add(errors.New("ledger.redis_addr is required for backend=redis"))
			}
		default:
			add(fmt.Errorf("ledger.backend: unknown value %q", l.Backend))
		}
	}

	if s := cfg.Storage; s != nil {
		dur("storage.busy_timeout", s.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		case "redis", "postgres":
			if strings.TrimSpace(s.DSN) == "" {
				add(fmt.Errorf("storage.dsn is required for driver=%s", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown value %q", s.Driver))
		}
	}

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}
	if a := cfg.Admin; a != nil {
		dur("admin.read_timeout", a.ReadTimeout)
		dur("admin.write_timeout", a.WriteTimeout)
	}

	return errors.Join(errs...)
}
