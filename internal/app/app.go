package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"quotebot/internal/alert"
	"quotebot/internal/commands"
	"quotebot/internal/config"
	"quotebot/internal/eventbus"
	"quotebot/internal/generator"
	"quotebot/internal/httpapi"
	"quotebot/internal/metrics"
	"quotebot/internal/publisher"
	rtsup "quotebot/internal/runtime/supervisor"
	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	telegram "quotebot/internal/transport/telegram/adapter"
	"quotebot/internal/transport/telegram/router"
	logx "quotebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	sups *router.SupervisorRegistry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine *publisher.Engine
	alerts *alert.Service
	router *router.Manager
	cmds   *commands.Set
	http   *httpapi.Server // nil unless http.enabled

	healthMu sync.Mutex
	health   *publisher.HealthMonitor // nil unless health.enabled

	sd notifier

	// live holds the reloadable publisher settings commands read.
	live atomic.Pointer[config.PublisherConfig]

	stopReason atomic.Value // StopReason
	updates    chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set its target, then apply the
	// final config so Apply() does not warn about a missing target.
	logCfg := mapLogging(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	admin, _ := adminTarget(cfg)
	if !admin.IsZero() {
		logSvc.SetTelegramTarget(admin)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", store.Driver()))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		sups:    router.NewSupervisorRegistry(),
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		adapter: ad,
		sd:      systemdNotifier{},
		updates: make(chan kit.Update, 256),
	}
	pc := cfg.Publisher
	a.live.Store(&pc)

	if err := a.buildPublisher(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.buildAlerts(cfg, admin)
	if cfg.Health.Enabled {
		a.health, _ = a.newHealth(cfg)
	}
	a.buildCommands(cfg)
	if cfg.HTTP.Enabled {
		hc, _ := mapHTTP(cfg)
		a.http = httpapi.New(hc, httpapi.Deps{
			Health:       healthProber{a},
			Forcer:       auditedForcer{a},
			Channel:      a.channel,
			OnForceError: func(err error) { a.alerts.Alert(context.Background(), "http.force", err) },
		}, log)
	}
	return a, nil
}

func (a *App) buildPublisher(cfg *config.Config) error {
	gcfg, _ := mapGenerator(cfg)
	gen, err := generator.New(gcfg, a.log.With(logx.String("comp", "generator")))
	if err != nil {
		return err
	}
	pol, skip, _ := mapPolicy(cfg)
	tm, _ := mapPublisherTimings(cfg)
	plog := a.log.With(logx.String("comp", "publisher"))

	calc := publisher.NewCalculator(publisher.CalculatorOptions{
		Store:    a.store,
		Policy:   pol,
		Fallback: tm.FallbackDelay,
		Log:      plog,
	})
	exec := publisher.NewExecutor(gen, publisher.AdapterSender{Adapter: a.adapter}, strings.TrimSpace(cfg.Publisher.ReviewChatID), plog)
	a.engine = publisher.NewEngine(publisher.EngineOptions{
		Calculator: calc,
		Executor:   exec,
		Skip:       publisher.NewSkipPolicy(skip, nil),
		Store:      a.store,
		Alerter:    alertSink{a},
		Bus:        a.bus,
		Log:        plog,
		RunTimeout: tm.RunTimeout,
	})
	return nil
}

func (a *App) buildAlerts(cfg *config.Config, admin kit.ChatTarget) {
	a.alerts = alert.New(alert.Options{
		Adapter:    a.adapter,
		Settings:   a.store,
		Loop:       a.engine,
		Chat:       admin,
		RatePerMin: cfg.Alerts.RatePerMin,
		SavedMax:   cfg.Alerts.SavedMax,
		Disabled:   cfg.Alerts.Disabled,
		Log:        a.log.With(logx.String("comp", "alert")),
		Driver:     a.store.Driver(),
		Shutdown:   func() { a.requestStop(StopOperator) },
	})
}

func (a *App) buildCommands(cfg *config.Config) {
	a.cmds = commands.New(commands.Deps{
		Loop:              a.engine,
		Health:            healthChecker{a},
		Supervisors:       a.sups,
		Channel:           a.channel,
		AcceptSubmissions: func() bool { return a.live.Load().AcceptSubmissions },
	})
	a.router = router.New(router.Options{
		Log:         a.log.With(logx.String("comp", "router")),
		Adapter:     a.adapter,
		Owners:      cfg.Telegram.OwnerUserIDs,
		Workers:     cfg.Telegram.Workers,
		Supervisors: a.sups,
		Audit:       a.audit,
	})
}

func (a *App) newHealth(cfg *config.Config) (*publisher.HealthMonitor, error) {
	ht, err := mapHealth(cfg)
	if err != nil {
		return nil, err
	}
	var onHealthy func()
	if cfg.Health.Watchdog {
		onHealthy = a.sd.Watchdog
	}
	return publisher.NewHealthMonitor(publisher.HealthOptions{
		Engine:           a.engine,
		Grace:            ht.Grace,
		Interval:         ht.Interval,
		ProbeMinInterval: ht.ProbeMinInterval,
		Location:         a.engine.Calculator().Policy().Location(),
		Log:              a.log.With(logx.String("comp", "health")),
		OnHealthy:        onHealthy,
	}), nil
}

func (a *App) currentHealth() *publisher.HealthMonitor {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	return a.health
}

// channel is the configured channel when publishing is enabled.
func (a *App) channel() string {
	pc := a.live.Load()
	if !pc.Enabled {
		return ""
	}
	return strings.TrimSpace(pc.ChannelID)
}

func (a *App) audit(ctx context.Context, e storage.AuditEntry) {
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// Done is closed when the app supervisor is cancelled (fatal error, operator
// shutdown or Stop).
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

// StopReason is the reason recorded by requestStop, if any.
func (a *App) StopReason() StopReason {
	if r, ok := a.stopReason.Load().(StopReason); ok {
		return r
	}
	return StopUnknown
}

func (a *App) requestStop(reason StopReason) {
	a.stopReason.CompareAndSwap(nil, reason)
	a.log.Warn("stop requested", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.alerts.Load(a.sup.Context())
	a.router.SetRegistry(a.cmds.Commands(), a.alerts.Callbacks(), a.cmds.Submit)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("alert.run", func(c context.Context) error {
		return a.alerts.Run(c, a.bus)
	})
	a.startEventLog()

	if ch := a.channel(); ch != "" {
		if a.live.Load().PostOnStart {
			a.sup.Go0("publisher.post_on_start", func(c context.Context) {
				// ForcePost arms the schedule itself once the post is out.
				if err := a.engine.ForcePost(c, ch); err != nil {
					a.log.Warn("post on start failed", logx.Err(err))
				}
			})
		} else if err := a.engine.SchedulePost(a.sup.Context(), ch); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	} else {
		a.engine.Disable()
		a.log.Warn("publisher disabled or no channel configured; nothing will be posted")
	}

	if h := a.currentHealth(); h != nil {
		if err := h.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	if err := a.sd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.String("channel", a.channel()))
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type)}
				if info, ok := e.Data.(eventbus.RunInfo); ok {
					fields = append(fields, logx.String("run_id", info.RunID), logx.Time("next", info.Next), logx.Bool("forced", info.Forced))
				}
				a.log.Debug("event", fields...)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if r := a.StopReason(); r != StopUnknown {
		reason = r
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_ = a.sd.Stopping()

	a.sup.Cancel()

	step := stepper(ctx, a.log)
	step("health", 2*time.Second, func(c context.Context) error {
		if h := a.currentHealth(); h != nil {
			h.Stop(c)
		}
		return nil
	})
	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("publisher", 3*time.Second, a.engine.Close)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// alertSink breaks the engine/alert construction cycle.
type alertSink struct{ a *App }

func (s alertSink) Alert(ctx context.Context, module string, err error) {
	if s.a.alerts != nil {
		s.a.alerts.Alert(ctx, module, err)
	}
}

// healthChecker and healthProber follow the live monitor across reloads.
type healthChecker struct{ a *App }

func (h healthChecker) CheckHealth(ctx context.Context) bool {
	if m := h.a.currentHealth(); m != nil {
		return m.CheckHealth(ctx)
	}
	return true
}

func (h healthChecker) Last() publisher.ProbeResult {
	if m := h.a.currentHealth(); m != nil {
		return m.Last()
	}
	return publisher.ProbeResult{Healthy: true, Reason: "health checks disabled"}
}

type healthProber struct{ a *App }

func (h healthProber) Probe(ctx context.Context) publisher.ProbeResult {
	if m := h.a.currentHealth(); m != nil {
		return m.Probe(ctx)
	}
	return publisher.ProbeResult{Healthy: true}
}

// auditedForcer records forced posts coming from outside Telegram.
type auditedForcer struct{ a *App }

func (f auditedForcer) ForcePost(ctx context.Context, channelID string) error {
	start := time.Now()
	err := f.a.engine.ForcePost(ctx, channelID)
	e := storage.AuditEntry{
		At:            start,
		ActorUsername: "http",
		Action:        "force",
		Target:        channelID,
		OK:            err == nil,
		TookMS:        time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	f.a.audit(context.WithoutCancel(ctx), e)
	return err
}
