package app

import (
	"strings"
	"time"

	"nftwatch/internal/caption"
	"nftwatch/internal/config"
	"nftwatch/internal/delivery"
	"nftwatch/internal/indexer"
	"nftwatch/internal/media"
	"nftwatch/internal/nft"
	"nftwatch/internal/notifier"
	"nftwatch/internal/observability/admin"
	"nftwatch/internal/storage"
	kit "nftwatch/internal/transport"
	"nftwatch/internal/watcher"
	logx "nftwatch/pkg/logx"
)

const (
	defaultSentTTL     = 10 * time.Minute
	defaultListLimit   = 5
	defaultPollTimeout = 10 * time.Second
)

// Every mapper assumes cfg already passed config.Validate, but still returns
// parse errors so a bad hot-reload never half-applies.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func target(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Telegram.TargetChat, ThreadID: cfg.Telegram.TargetThread}
}

func mapIndexer(cfg *config.Config) (indexer.FetcherConfig, indexer.ClientConfig, error) {
	ix := cfg.Indexer
	timeout, err := config.ParseDurationOrDefault("indexer.timeout", ix.Timeout, 10*time.Second)
	if err != nil {
		return indexer.FetcherConfig{}, indexer.ClientConfig{}, err
	}
	base, err := config.ParseDurationOrDefault("indexer.backoff.base", ix.Backoff.Base, 2*time.Second)
	if err != nil {
		return indexer.FetcherConfig{}, indexer.ClientConfig{}, err
	}
	warn, err := config.ParseDurationOrDefault("indexer.backoff.warn_interval", ix.Backoff.WarnInterval, 5*time.Second)
	if err != nil {
		return indexer.FetcherConfig{}, indexer.ClientConfig{}, err
	}
	mode := indexer.BackoffExponential
	if strings.EqualFold(strings.TrimSpace(ix.Backoff.Mode), string(indexer.BackoffLinear)) {
		mode = indexer.BackoffLinear
	}
	fc := indexer.FetcherConfig{
		BaseURL:      ix.BaseURL,
		APIKey:       ix.APIKey,
		Timeout:      timeout,
		Mode:         mode,
		BaseDelay:    base,
		MaxAttempts:  ix.Backoff.MaxAttempts,
		WarnInterval: warn,
	}
	cc := indexer.ClientConfig{
		Source:     indexer.Source(strings.ToLower(strings.TrimSpace(ix.Source))),
		Account:    strings.TrimSpace(ix.Account),
		Collection: strings.TrimSpace(ix.Collection),
	}
	return fc, cc, nil
}

func mapWatcher(cfg *config.Config) (watcher.Config, error) {
	w := cfg.Watcher
	var err error
	out := watcher.Config{
		ListLimit: cfg.Indexer.ListLimit,
		Rules: nft.Rules{
			CollectionName: strings.TrimSpace(w.CollectionName),
			RequireImage:   w.RequireImage == nil || *w.RequireImage,
		},
	}
	if out.ListLimit <= 0 {
		out.ListLimit = defaultListLimit
	}
	if out.PollInterval, err = config.ParseDurationField("watcher.poll_interval", w.PollInterval); err != nil {
		return watcher.Config{}, err
	}
	if out.ResolveInterval, err = config.ParseDurationField("watcher.resolve_interval", w.ResolveInterval); err != nil {
		return watcher.Config{}, err
	}
	if out.DrainInterval, err = config.ParseDurationField("watcher.drain_interval", w.DrainInterval); err != nil {
		return watcher.Config{}, err
	}
	if out.MaxPendingTime, err = config.ParseDurationField("watcher.max_pending_time", w.MaxPendingTime); err != nil {
		return watcher.Config{}, err
	}
	out.Watchdog.Enabled = w.Watchdog.Enabled
	if out.Watchdog.Silence, err = config.ParseDurationField("watcher.watchdog.silence", w.Watchdog.Silence); err != nil {
		return watcher.Config{}, err
	}
	if out.Watchdog.Interval, err = config.ParseDurationField("watcher.watchdog.interval", w.Watchdog.Interval); err != nil {
		return watcher.Config{}, err
	}
	if cfg.Ledger != nil {
		out.CompactSchedule = strings.TrimSpace(cfg.Ledger.CompactInterval)
	}
	return out, nil
}

func mapPacing(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("watcher.send_pacing", cfg.Watcher.SendPacing, delivery.DefaultPacing)
}

func mapSentTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("watcher.sent_ttl", cfg.Watcher.SentTTL, defaultSentTTL)
}

func mapCaption(cfg *config.Config) caption.Options {
	return caption.Options{LinkBase: cfg.Caption.LinkBase, Footer: cfg.Caption.Footer}
}

func mapMedia(cfg *config.Config) media.Config {
	c := cfg.Caption
	width := c.ImageWidth
	if width == 0 {
		width = media.DefaultWidth
	}
	return media.Config{Gateway: c.IPFSGateway, Width: width}
}

// mapNotifier enables the notifier with defaults when the section is omitted.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	s := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: busy,
		KeyPrefix:   s.KeyPrefix,
	}, nil
}

func mapAdmin(cfg *config.Config) (admin.Config, error) {
	if cfg.Admin == nil {
		return admin.Config{}, nil
	}
	a := cfg.Admin
	out := admin.Config{
		Enabled:       a.Enabled,
		Addr:          a.Addr,
		Token:         strings.TrimSpace(a.Token),
		AllowInsecure: a.AllowInsecure,
		Pprof:         a.Pprof,
		CORSOrigins:   a.CORSOrigins,
		IdleTimeout:   time.Minute,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("admin.read_timeout", a.ReadTimeout, 10*time.Second); err != nil {
		return admin.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("admin.write_timeout", a.WriteTimeout, 30*time.Second); err != nil {
		return admin.Config{}, err
	}
	return out, nil
}
