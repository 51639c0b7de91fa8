package app

import (
	"context"
	"strings"
	"time"

	"durasched/internal/admin"
	"durasched/internal/codec"
	"durasched/internal/config"
	"durasched/internal/conn"
	"durasched/internal/eventbus"
	"durasched/internal/handlers"
	"durasched/internal/runtime/supervisor"
	"durasched/internal/scheduler"
	logx "durasched/pkg/logx"
	"durasched/pkg/systemd"

	"github.com/cockroachdb/errors"
)

// App is the daemon: one scheduler, its built-in handlers, the admin API and
// the config/systemd plumbing around them.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *codec.Registry

	sched *scheduler.Scheduler
	admin *admin.Service
	sd    systemd.Notifier
}

// Option customises NewApp; tests use it to swap the store or registry.
type Option func(*options)

type options struct {
	sched []scheduler.Option
	reg   *codec.Registry
}

func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.sched = append(o.sched, opts...) }
}

func WithRegistry(r *codec.Registry) Option { return func(o *options) { o.reg = r } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := loadConfig(cfgm, logx.NewConsole("INFO").With(logx.String("comp", "app")))
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.Logging.Logx())
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	bus := eventbus.New()

	reg := o.reg
	if reg == nil {
		reg = codec.NewRegistry()
	}
	hopts, err := cfg.HandlerOptions(root)
	if err != nil {
		return nil, err
	}
	if err := handlers.Register(reg, hopts); err != nil {
		return nil, errors.Wrap(err, "register built-in handlers")
	}

	sc, err := cfg.SchedulerSettings()
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(cfg.Scheduler.Name, sc, append([]scheduler.Option{
		scheduler.WithLogger(root),
		scheduler.WithBus(bus),
		scheduler.WithRegistry(reg),
	}, o.sched...)...)
	if err != nil {
		return nil, err
	}

	ac, err := cfg.Admin.Resolve()
	if err != nil {
		return nil, err
	}
	adminSvc := admin.New(ac, sched, root.With(logx.String("comp", "admin")))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		reg:   reg,
		sched: sched,
		admin: adminSvc,
	}, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Registry is where custom handlers go; register before Start.
func (a *App) Registry() *codec.Registry { return a.reg }

// AdminAddr is the bound admin listen address ("" when disabled).
func (a *App) AdminAddr() string { return a.admin.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the background loops, starts the admin API and blocks in the
// initial store connect. ErrConnectionFatal means the attempt budget ran out.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

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
				// Keep this debug-level; the emitting component logs the interesting ones.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	connEvents, connUnsub := a.bus.Subscribe(32, "conn.")
	a.sup.Go0("systemd.notify", func(c context.Context) {
		defer connUnsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-connEvents:
				if !ok {
					return
				}
				a.notifySystemd(e)
			}
		}
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.Watchdog(c, nil)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.admin.SetTasks(a.sup.Snapshot)
	if err := a.admin.Start(a.sup.Context()); err != nil {
		return err
	}

	_, _ = a.sd.Status("connecting to store")
	if err := a.sched.Connect(ctx); err != nil {
		return err
	}
	a.log.Info("app started",
		logx.String("namespace", a.sched.Name()),
		logx.String("admin", a.admin.Addr()),
		logx.Any("handlers", a.reg.Names()),
	)
	return nil
}

func (a *App) notifySystemd(e eventbus.Event) {
	tr, _ := e.Data.(conn.Transition)
	var err error
	switch e.Type {
	case conn.EventConnected:
		_, err = a.sd.Ready("scheduler " + a.sched.Name() + " ready")
	case conn.EventReconnected:
		_, err = a.sd.Status("scheduler " + a.sched.Name() + " ready (reconnected)")
	case conn.EventDisconnected:
		_, err = a.sd.Status("store connection lost; reconnecting")
	case conn.EventGaveUp:
		_, err = a.sd.Status("store unreachable; reconnect gave up: " + tr.Err)
	default:
		return
	}
	if err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if err := a.logs.Apply(newCfg.Logging.Logx()); err != nil {
		a.log.Warn("log file unavailable; console only", logx.Err(err))
	}

	if ac, err := newCfg.Admin.Resolve(); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else if err := a.admin.Reconfigure(ctx, ac); err != nil {
		a.log.Warn("admin reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop disconnects the scheduler (timers cancelled, running handler awaited),
// stops the admin API and waits for background loops, each bounded so one
// step cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping("stopping: " + string(reason))

	var errs error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = errors.CombineErrors(errs, errors.Wrap(err, name))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// Stop accepting admin calls first so nothing schedules into a closing store.
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("scheduler", 5*time.Second, a.sched.Disconnect)
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errs
}
