package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"schedd/internal/config"
	"schedd/internal/dispatch"
	"schedd/internal/eventbus"
	"schedd/internal/hooks"
	"schedd/internal/notifier"
	"schedd/internal/observability/pprof"
	"schedd/internal/recurrence"
	"schedd/internal/runtime/supervisor"
	"schedd/internal/schedule"
	"schedd/internal/storage"
	"schedd/internal/trigger"
	logx "schedd/pkg/logx"
	"schedd/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.ClaimingStore
	ev    *schedule.Evaluator
	hooks *hooks.Registry[schedule.Fire]

	trig  *trigger.Service
	disp  *dispatch.Dispatcher
	notif *notifier.Service
	pprof *pprof.Service

	mu              sync.Mutex
	dispatchEnabled bool
}

// New loads the config and builds every component without starting any
// background work.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", sc.Driver))

	bus := eventbus.New()
	ev := schedule.NewEvaluator(recurrence.New(mapEngineConfig(cfg)))
	hk := hooks.New[schedule.Fire]()

	dc, tc, err := mapDispatcherConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	trig := trigger.New(tc, root, bus)
	disp := dispatch.New(dc, dispatch.Options{
		Store:     store,
		Evaluator: ev,
		Hooks:     hk,
		Bus:       bus,
		Waker:     trig,
		Log:       root,
	})

	nc, sender, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifLog := root.With(logx.String("comp", "notifier"))
	if sender == nil {
		sender = notifier.LogSender{Log: notifLog}
	}
	notif := notifier.New(nc, sender, notifLog, bus)
	hk.On(dispatch.EventFire, "notifier", notif.HandleFire)

	pc, err := mapPprofConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		ev:              ev,
		hooks:           hk,
		trig:            trig,
		disp:            disp,
		notif:           notif,
		dispatchEnabled: cfg.Dispatcher.Enabled,
	}
	a.pprof = pprof.New(pc, func() any { return a.Status() }, root.With(logx.String("comp", "pprof")))
	return a, nil
}

func (a *App) Config() *config.Config                { return a.cfgm.Get() }
func (a *App) Log() logx.Logger                      { return a.log }
func (a *App) Store() storage.ClaimingStore          { return a.store }
func (a *App) Evaluator() *schedule.Evaluator        { return a.ev }
func (a *App) Dispatcher() *dispatch.Dispatcher      { return a.disp }
func (a *App) Hooks() *hooks.Registry[schedule.Fire] { return a.hooks }

// Done is closed when the app supervisor context is cancelled.
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

// ImportItems upserts the definitions in path. Dispatch state of existing
// items is kept.
func (a *App) ImportItems(ctx context.Context, path string) (int, error) {
	items, err := schedule.LoadDefinitions(path)
	if err != nil {
		return 0, err
	}
	for i, it := range items {
		if err := a.store.PutItem(ctx, it); err != nil {
			return i, fmt.Errorf("import %s: %w", it.ID, err)
		}
	}
	a.log.Info("items imported", logx.String("file", path), logx.Int("count", len(items)))
	return len(items), nil
}

// ImportConfigured imports items.file when one is configured.
func (a *App) ImportConfigured(ctx context.Context) error {
	f := strings.TrimSpace(a.cfgm.Get().Items.File)
	if f == "" {
		return nil
	}
	_, err := a.ImportItems(ctx, f)
	return err
}

// RunOnce dispatches date outside the daemon: the notifier runs for the
// duration of the call and is drained before returning.
func (a *App) RunOnce(ctx context.Context, date recurrence.Date) (dispatch.Report, error) {
	a.notif.Start(ctx)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		a.notif.Stop(sctx)
		cancel()
	}()
	if date.IsZero() {
		date = a.disp.Today()
	}
	return a.disp.Run(ctx, date)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	cfg := a.cfgm.Get()
	if err := a.ImportConfigured(ctx); err != nil {
		return err
	}

	a.notif.Start(a.sup.Context())
	if a.dispatchEnabled {
		if err := a.startDispatch(a.sup.Context()); err != nil {
			return err
		}
		if cfg.Dispatcher.RunOnStart {
			a.sup.Go("dispatch.on_start", func(c context.Context) error {
				a.disp.RunUnit(c)
				return nil
			})
		}
	}
	a.pprof.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						newCfg = newer
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("dispatcher", a.dispatchEnabled),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Stringer("today", a.disp.Today()),
	)
	return nil
}

func (a *App) startDispatch(ctx context.Context) error {
	a.trig.Start(ctx)
	return a.disp.EnsureDailyTrigger()
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	if config.RestartRequired(sections) {
		a.log.Warn("storage or recurrence config changed; restart required for changes to take effect")
	}

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("logging reconfigure incomplete", logx.Err(err))
	}

	if dc, tc, err := mapDispatcherConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
	} else {
		cadenceChanged := strings.TrimSpace(oldCfg.Dispatcher.Cadence) != strings.TrimSpace(newCfg.Dispatcher.Cadence)
		oldTrigger := a.disp.TriggerName()
		a.disp.Apply(dc)
		a.trig.Apply(tc)

		a.mu.Lock()
		prev := a.dispatchEnabled
		a.dispatchEnabled = newCfg.Dispatcher.Enabled
		a.mu.Unlock()

		switch {
		case prev && !newCfg.Dispatcher.Enabled:
			a.log.Info("dispatcher disabled via config")
			sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.trig.Stop(sctx)
			cancel()
		case !prev && newCfg.Dispatcher.Enabled:
			a.log.Info("dispatcher enabled via config")
			if err := a.startDispatch(ctx); err != nil {
				a.log.Error("ensure trigger failed", logx.Err(err))
			}
		case newCfg.Dispatcher.Enabled && cadenceChanged:
			a.trig.Remove(oldTrigger)
			if err := a.disp.EnsureDailyTrigger(); err != nil {
				a.log.Error("ensure trigger failed", logx.Err(err))
			}
		}
	}

	if nc, sender, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		if sender == nil {
			sender = notifier.LogSender{Log: a.log.With(logx.String("comp", "notifier"))}
		}
		a.notif.Apply(nc, sender)
		switch {
		case prev && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(sctx)
			cancel()
		case !prev && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if pc, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, pc)
	}

	if f := strings.TrimSpace(newCfg.Items.File); f != "" && newCfg.Items != oldCfg.Items {
		if _, err := a.ImportItems(ctx, f); err != nil {
			a.log.Warn("items import failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop runs bounded shutdown steps: trigger, notifier, pprof, storage, then
// the supervised loops.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "trigger", 3*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound so one component cannot stall the whole
// stop. fn must honor its context; a step that overruns is logged when it
// eventually finishes.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
