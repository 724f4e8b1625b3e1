// Package app wires the reminder bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/extract"
	"remindbot/internal/notifier"
	"remindbot/internal/ops"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/sweeper"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store   reminder.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	sweep   *sweeper.Sweeper
	disp    *bot.Dispatcher
	ops     *ops.Service

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component without
// starting any of them.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath,
		config.WithLogger(bootLog.With(logx.String("comp", "config"))),
		config.WithValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) }),
	)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// the validator only guards reloads
	if err := validate(cfg); err != nil {
		return nil, err
	}
	loc, _ := config.LoadLocation(cfg.Scheduler.Timezone)

	tgCfg, _ := mapTelegramConfig(cfg)
	ad, err := telegram.New(tgCfg, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Start with the chat sink off and enable it once the target is set, so
	// Apply does not warn about a missing log chat.
	logCfg := mapLoggingConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(cfg.Telegram.LogChat, cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	ad.SetLogger(root.With(logx.String("comp", "telegram")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bus := eventbus.New()

	store, err := OpenStore(cfg, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ncfg, _ := mapNotifierConfig(cfg, loc)
	var nopts []notifier.Option
	nopts = append(nopts, notifier.WithBus(bus))
	if ncfg.WhatsApp.Enabled {
		wa := cfg.Notifier.WhatsApp
		ch, err := notifier.NewWhatsApp(wa.AccountSID, wa.AuthToken, wa.From)
		if err != nil {
			return fail(fmt.Errorf("whatsapp channel: %w", err))
		}
		nopts = append(nopts, notifier.WithSecondary(ch))
	}
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), nopts...)

	sm, err := sweeper.NewMetrics(reg)
	if err != nil {
		return fail(err)
	}
	scfg, _ := mapSweeperConfig(cfg)
	sweep := sweeper.New(store, notif, scfg,
		sweeper.WithLogger(root.With(logx.String("comp", "sweeper"))),
		sweeper.WithMetrics(sm),
		sweeper.WithBus(bus),
	)

	bm, err := bot.NewMetrics(reg)
	if err != nil {
		return fail(err)
	}
	resolver := extract.NewWhenResolver(loc)
	extractor := extract.New(resolver,
		extract.WithLogger(root.With(logx.String("comp", "extract"))),
		extract.WithTriggers(cfg.Bot.Triggers),
	)
	var tr transcribe.Transcriber
	tcfg, _ := mapTranscriberConfig(cfg)
	switch w, err := transcribe.NewWhisper(tcfg); {
	case errors.Is(err, transcribe.ErrNotConfigured):
		log.Warn("no transcriber api key; voice messages are declined")
	case err != nil:
		return fail(err)
	default:
		tr = w
	}
	bcfg, dcfg, _ := mapBotConfig(cfg, loc)
	dcfg.Username = ad.Username()
	b, err := bot.New(bcfg, bot.Deps{
		Adapter:     ad,
		Store:       store,
		Extractor:   extractor,
		Resolver:    resolver,
		Transcriber: tr,
		Bus:         bus,
		Metrics:     bm,
		Log:         root.With(logx.String("comp", "bot")),
	})
	if err != nil {
		return fail(err)
	}
	disp := bot.NewDispatcher(dcfg, ad, root.With(logx.String("comp", "dispatcher")), bm)
	b.Register(disp)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		reg:     reg,
		store:   store,
		adapter: ad,
		notif:   notif,
		sweep:   sweep,
		disp:    disp,
		updates: make(chan kit.Update, 256),
	}
	ocfg, _ := mapOpsConfig(cfg)
	a.ops = ops.New(ocfg, root.With(logx.String("comp", "ops")), reg, a.healthChecks()...)
	return a, nil
}

// OpenStore opens the reminder store selected by cfg.
func OpenStore(cfg *config.Config, log logx.Logger) (reminder.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (a *App) healthChecks() []ops.Check {
	supErr := func(get func() *rtsup.Supervisor) func(context.Context) error {
		return func(context.Context) error {
			if s := get(); s != nil {
				return s.Err()
			}
			return nil
		}
	}
	return []ops.Check{
		{Name: "store", Fn: a.store.Ping},
		{Name: "sweeper", Fn: func(context.Context) error {
			if a.sweep.Degraded() {
				return reminder.ErrStorageUnavailable
			}
			return nil
		}},
		{Name: "telegram", Fn: supErr(a.adapter.Supervisor)},
		{Name: "dispatcher", Fn: supErr(a.disp.Supervisor)},
		{Name: "notifier", Fn: supErr(a.notif.Supervisor)},
	}
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.notif.Start(c)
	a.sweep.Start(c)
	a.ops.Start(c)

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.disp.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", a.watchdog)
	sdNotify(a.log, sdReady)
	a.log.Info("app started")
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			if re, ok := e.Data.(eventbus.ReminderEvent); ok {
				fields = append(fields, logx.Int64("reminder_id", re.ID), logx.Int64("owner_id", re.OwnerID))
				if re.Err != "" {
					fields = append(fields, logx.String("err", re.Err))
				}
			}
			a.log.Debug("event", fields...)
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "sweeper", 3*time.Second, a.sweep.Stop)
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, a.notif.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
