package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"loggerbot/internal/config"
	"loggerbot/internal/delivery"
	"loggerbot/internal/eventbus"
	"loggerbot/internal/heartbeat"
	"loggerbot/internal/httpapi"
	"loggerbot/internal/metrics"
	"loggerbot/internal/reporter"
	rtsup "loggerbot/internal/runtime/supervisor"
	"loggerbot/internal/storage"
	"loggerbot/internal/transport/telegram"
	logx "loggerbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor
	set  Settings

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	tg      *telegram.Transport // nil when a transport was injected
	disp    *delivery.Dispatcher
	rep     *reporter.Service
	store   storage.Store
	metrics *metrics.Metrics
	http    *httpapi.Service
	beat    *heartbeat.Service
}

type Option func(*options)

type options struct {
	environ   map[string]string
	transport delivery.Transport
}

// WithEnviron replaces the process environment for LOGGERBOT_* overrides.
func WithEnviron(environ map[string]string) Option {
	return func(o *options) { o.environ = environ }
}

// WithTransport replaces the Telegram transport.
func WithTransport(t delivery.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New loads the config and builds every component. Nothing runs until
// Start, except the dispatcher, which starts its worker on the first
// Enqueue.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.environ != nil {
		cfgm.SetEnviron(o.environ)
	}
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := MapSettings(cfg)
		return err
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := MapSettings(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(set.Logging)
	cfgm.SetLogger(log.With(logx.String("comp", "config"), logx.Local()))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, set: set, log: log.With(logx.String("comp", "app")), logs: logs, bus: bus}

	t := o.transport
	if t == nil {
		a.tg, err = telegram.New(set.Telegram, log)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		t = a.tg
	}
	a.disp = delivery.New(set.Delivery, t, log, bus)
	a.rep = reporter.New(set.Reporter, a.disp, log)
	logs.SetSink(a.rep.Sink())

	if set.Storage.Driver != "" {
		a.store, err = storage.Open(set.Storage, log.With(logx.String("comp", "storage"), logx.Local()))
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		a.log.Info("audit log enabled", logx.String("driver", set.Storage.Driver))
	}

	a.metrics = metrics.New(func() int { return a.disp.Stats().Pending }, bus)
	a.http = httpapi.New(set.HTTP, httpapi.Deps{
		Reporter: a.rep,
		Stats:    a.disp.Stats,
		Store:    a.store,
		Loops:    a.loops,
		Metrics:  a.metrics.Handler(),
		Observe:  a.metrics.ObserveHTTP,
	}, log)
	a.beat = heartbeat.New(set.Heartbeat, a.disp.Stats, a.rep, log)
	return a, nil
}

func (a *App) Reporter() *reporter.Service      { return a.rep }
func (a *App) Dispatcher() *delivery.Dispatcher { return a.disp }
func (a *App) Logger() logx.Logger              { return a.log }

func (a *App) loops() []rtsup.LoopStats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the background loops: config watch and reload, audit
// recorder, metrics feeder, HTTP server, heartbeat and the systemd
// watchdog.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.set.Retention, a.log)
		a.sup.GoRestart("audit.recorder", rec.Run)
	}
	a.sup.GoRestart("metrics.feed", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.beat.Start(c); err != nil {
		return err
	}
	a.http.Reconfigure(c, a.set.HTTP)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// keep only the latest
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
				a.reload(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if iv, err := daemon.SdWatchdogEnabled(false); err == nil && iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(iv / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Int("projects", len(a.set.Reporter.Projects)),
		logx.Bool("http", a.set.HTTP.Enabled),
		logx.Bool("audit", a.store != nil),
		logx.Bool("heartbeat", a.set.Heartbeat.Enabled),
	)
	return nil
}

func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	set, err := MapSettings(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	old := a.set
	a.set = set

	a.logs.Apply(set.Logging)
	if a.tg != nil {
		if old.Telegram.Token != set.Telegram.Token || old.Telegram.APIURL != set.Telegram.APIURL || old.Telegram.Timeout != set.Telegram.Timeout {
			a.log.Warn("telegram token, api_url or timeout changed; restart required for changes to take effect")
		}
		a.tg.Apply(set.Telegram)
	}
	a.disp.Apply(set.Delivery)
	a.rep.Apply(set.Reporter)
	if old.Storage != set.Storage || old.Retention != set.Retention {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	a.http.Reconfigure(ctx, set.HTTP)
	if err := a.beat.Apply(set.Heartbeat); err != nil {
		a.log.Warn("heartbeat not rescheduled", logx.Err(err))
	}

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Queued events get a
// bounded chance to drain; anything left is lost.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.step(ctx, "heartbeat", time.Second, func(context.Context) error { a.beat.Stop(); return nil })
	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "delivery.drain", 5*time.Second, func(c context.Context) error {
		if err := a.disp.WaitIdle(c); err != nil {
			return fmt.Errorf("%d events not delivered: %w", a.disp.Stats().Pending, err)
		}
		return nil
	})

	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	err := a.close()
	a.log.Info("stopped")
	return err
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs fn with a timeout that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	c, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(c)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-c.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
