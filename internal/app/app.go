// Package app wires config, transport, the watcher pipeline and the optional
// admin surface into one process and drives their lifecycle.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nftwatch/internal/caption"
	"nftwatch/internal/commands"
	"nftwatch/internal/config"
	"nftwatch/internal/delivery"
	"nftwatch/internal/eventbus"
	"nftwatch/internal/indexer"
	"nftwatch/internal/ledger"
	"nftwatch/internal/media"
	"nftwatch/internal/notifier"
	"nftwatch/internal/observability/admin"
	rtsup "nftwatch/internal/runtime/supervisor"
	"nftwatch/internal/scoring"
	"nftwatch/internal/storage"
	kit "nftwatch/internal/transport"
	telegram "nftwatch/internal/transport/telegram/adapter"
	"nftwatch/internal/transport/telegram/router"
	"nftwatch/internal/watcher"
	logx "nftwatch/pkg/logx"
	"nftwatch/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	counter *eventbus.Counter
	store   storage.Store
	ledger  *ledger.Ledger
	scores  *scoring.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	queue   *delivery.Queue
	capt    *watcher.CaptionSender
	ctrl    *watcher.Controller
	cmdm    *router.CommandManager
	admin   *admin.Service
	sd      *systemd.Notifier

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
		logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply does not warn before the
	// target is known.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logs, log := logx.New(bootCfg, ad)
	setLogTarget(logs, cfg)
	logs.Apply(logCfg)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		counter: eventbus.NewCounter(),
		adapter: ad,
		sd:      systemd.New(log.With(logx.String("comp", "systemd"))),
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.ledger != nil {
			_ = a.ledger.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, comp("storage")); err != nil {
		return err
	}

	ttl, err := mapSentTTL(cfg)
	if err != nil {
		return err
	}
	backend, err := openLedgerBackend(cfg)
	if err != nil {
		return err
	}
	a.ledger = ledger.New(backend, ttl, ledger.WithLogger(comp("ledger")))

	tables := scoring.Empty()
	if p := strings.TrimSpace(cfg.Scoring.PowerTable); p != "" {
		if tables, err = scoring.Load(p); err != nil {
			return err
		}
	}
	a.scores = scoring.NewStore(tables)

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return err
	}
	images := media.New(mapMedia(cfg), comp("media"))
	a.notif = notifier.New(ncfg, a.adapter, comp("notifier"), a.bus,
		notifier.WithImages(images),
		notifier.WithTarget(target(cfg)),
	)

	renderer, err := caption.LoadRenderer(cfg.Caption.TemplatePath)
	if err != nil {
		return err
	}
	a.capt = watcher.NewCaptionSender(a.notif, renderer, mapCaption(cfg))

	pacing, err := mapPacing(cfg)
	if err != nil {
		return err
	}
	a.queue = delivery.NewQueue(a.capt, delivery.Options{Pacing: pacing, Journal: a.store, Bus: a.bus}, comp("delivery"))

	fc, cc, err := mapIndexer(cfg)
	if err != nil {
		return err
	}
	client := indexer.NewClient(indexer.NewFetcher(fc, comp("indexer")), cc)

	wcfg, err := mapWatcher(cfg)
	if err != nil {
		return err
	}
	a.ctrl = watcher.New(wcfg, watcher.Deps{
		Source:    client,
		Ledger:    a.ledger,
		Queue:     a.queue,
		Scores:    a.scores,
		Store:     a.store,
		Bus:       a.bus,
		Lifecycle: a.notif,
	}, comp("watcher"))
	a.ctrl.SetSkinFilter(cfg.Watcher.SkinFilter)

	a.cmdm = router.NewCommandManager(comp("commands"), a.adapter, cfg.Telegram.OwnerUserIDs)
	if cfg.Telegram.RestrictChat {
		a.cmdm.RestrictToChat(cfg.Telegram.TargetChat)
	}
	a.cmdm.SetRegistry(commands.New(a.ctrl, a.ledger).Routes())

	acfg, err := mapAdmin(cfg)
	if err != nil {
		return err
	}
	a.admin = admin.New(acfg, admin.Deps{
		Watcher:     a.ctrl,
		Journal:     a.store,
		Health:      a.health,
		Supervisors: a.supervisors,
		Events:      a.counter.Snapshot,
	}, comp("admin"))
	return nil
}

func openLedgerBackend(cfg *config.Config) (ledger.Backend, error) {
	lc := cfg.Ledger
	if lc == nil || !strings.EqualFold(strings.TrimSpace(lc.Backend), "redis") {
		return ledger.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ledger.DialRedis(ctx, lc.RedisAddr, lc.RedisPassword, lc.RedisDB, lc.KeyPrefix)
}

func setLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithName("app"), rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateReload)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c); err != nil {
			a.log.Warn("publish command menu failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.count", func(c context.Context) {
		defer unsub()
		a.counter.Run(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.watchPowerTable(a.cfgm.Get())

	a.admin.Reconfigure(a.sup.Context(), adminConfig(a.cfgm.Get()))

	if a.cfgm.Get().Watcher.AutoStart {
		if err := a.ctrl.Start(a.sup.Context()); err != nil {
			// Already announced by the controller; the bot stays up for /watch_start.
			a.log.Warn("watcher auto-start failed", logx.Err(err))
		}
	}

	a.sd.Ready("watcher running: " + strconv.FormatBool(a.ctrl.Running()))
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.RunWatchdog(c, func() bool { return a.sup.Err() == nil })
	})

	a.log.Info("app started", logx.Bool("watcher_running", a.ctrl.Running()))
	return nil
}

// watchPowerTable reloads the scoring tables on file change when enabled.
// A broken table keeps the previous one.
func (a *App) watchPowerTable(cfg *config.Config) {
	path := strings.TrimSpace(cfg.Scoring.PowerTable)
	if path == "" || !cfg.Scoring.Watch {
		return
	}
	log := a.log.With(logx.String("comp", "scoring"), logx.String("path", path))
	a.sup.Go("scoring.watch", func(c context.Context) error {
		return config.WatchFile(c, path, log, func() {
			if cur := a.cfgm.Get(); strings.TrimSpace(cur.Scoring.PowerTable) != path {
				return
			}
			t, err := a.scores.Reload(path)
			if err != nil {
				log.Warn("power table reload failed; keeping previous", logx.Err(err))
				return
			}
			types, keywords, numbers := t.Stats()
			log.Info("power table reloaded", logx.Int("types", types), logx.Int("keywords", keywords), logx.Int("numbers", numbers))
		})
	})
}

func adminConfig(cfg *config.Config) admin.Config {
	ac, _ := mapAdmin(cfg)
	return ac
}

func (a *App) health() map[string]any {
	return map[string]any{
		"watcher_running": a.ctrl.Running(),
		"storage":         a.store.Driver(),
	}
}

func (a *App) supervisors() map[string]rtsup.SupervisorSnapshot {
	out := map[string]rtsup.SupervisorSnapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if s := a.adapter.Supervisor(); s != nil {
		out["telegram.adapter"] = s.Snapshot()
	}
	if s := a.cmdm.Supervisor(); s != nil {
		out["commands"] = s.Snapshot()
	}
	if s := a.notif.Supervisor(); s != nil {
		out["notifier"] = s.Snapshot()
	}
	if s := a.ctrl.Supervisor(); s != nil {
		out["watcher"] = s.Snapshot()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Stop the watcher first so the final offset is saved and the stop
	// message still has a live notifier and adapter.
	a.step(ctx, "watcher", 5*time.Second, func(c context.Context) error { return a.ctrl.Close(c) })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.sup.Cancel()

	a.step(ctx, "admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "ledger", time.Second, func(context.Context) error { return a.ledger.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit, never past ctx's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
