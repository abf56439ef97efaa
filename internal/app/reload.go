package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"nftwatch/internal/caption"
	"nftwatch/internal/config"
	"nftwatch/internal/scoring"
	logx "nftwatch/pkg/logx"
)

// validateReload gates hot-reload: every mapper must accept the new config,
// and the power table and caption template must load.
func validateReload(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, _, err := mapIndexer(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapWatcher(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifier(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapAdmin(cfg); err != nil {
		errs = append(errs, err)
	}
	if p := strings.TrimSpace(cfg.Scoring.PowerTable); p != "" {
		if _, err := scoring.Load(p); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := caption.LoadRenderer(cfg.Caption.TemplatePath); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live-reloadable settings into running components.
// Watcher intervals, rules and the indexer are read on the next watcher start.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(s string) bool { return slices.Contains(sections, s) }

	setLogTarget(a.logs, next)
	a.logs.Apply(mapLogging(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	if next.Telegram.RestrictChat {
		a.cmdm.RestrictToChat(next.Telegram.TargetChat)
	} else {
		a.cmdm.RestrictToChat(0)
	}
	a.notif.SetTarget(target(next))

	if next.Watcher.SkinFilter != prev.Watcher.SkinFilter {
		a.ctrl.SetSkinFilter(next.Watcher.SkinFilter)
	}
	if pacing, err := mapPacing(next); err == nil {
		a.queue.SetPacing(pacing)
	}
	if ttl, err := mapSentTTL(next); err == nil {
		a.ledger.SetTTL(ttl)
	}
	if wcfg, err := mapWatcher(next); err == nil {
		a.ctrl.Apply(wcfg)
	}

	if r, err := caption.LoadRenderer(next.Caption.TemplatePath); err == nil {
		a.capt.Set(r, mapCaption(next))
	} else {
		a.log.Warn("caption template reload failed; keeping previous", logx.Err(err))
	}

	if p := strings.TrimSpace(next.Scoring.PowerTable); p != "" && p != strings.TrimSpace(prev.Scoring.PowerTable) {
		if _, err := a.scores.Reload(p); err != nil {
			a.log.Warn("power table reload failed; keeping previous", logx.Err(err))
		}
		if next.Scoring.Watch {
			a.watchPowerTable(next)
		}
	}

	if ncfg, err := mapNotifier(next); err == nil {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}

	if changed("admin") {
		a.admin.Reconfigure(ctx, adminConfig(next))
	}
	if changed("storage") || (changed("ledger") && ledgerBackend(prev) != ledgerBackend(next)) {
		a.log.Warn("storage or ledger backend changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func ledgerBackend(cfg *config.Config) string {
	if cfg.Ledger == nil {
		return "memory"
	}
	return strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
}
