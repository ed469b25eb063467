package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"timermux/internal/config"
	"timermux/internal/eventbus"
	"timermux/internal/runtime/supervisor"
	"timermux/internal/script"
	"timermux/internal/timer"
	logx "timermux/pkg/logx"
)

const watchMaxRestarts = 3

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	loop *timer.Loop
	// host is only touched from the loop goroutine.
	host *script.Host
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	minMs, err := config.ParseMillisOrDefault("timer.min_interval", cfg.Timer.MinInterval, timer.DefaultMinIntervalMs)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	loop := timer.NewLoop(timer.Config{
		MinIntervalMs: minMs,
		Debug:         cfg.Timer.Debug,
	}, nil, log.With(logx.String("comp", "timer")))

	return &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
		loop: loop,
	}, nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// Bus is the in-process event bus. Publish eventbus.TypeTimerCancel on it to
// raise the External Cancel Event.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Config returns the last committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

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

// Status returns the number of active timers.
func (a *App) Status(ctx context.Context) (int, error) {
	var n int
	err := a.loop.Do(ctx, func(s *timer.Scheduler) { n = s.Status() })
	return n, err
}

// Snapshot returns per-timer diagnostics, soonest first.
func (a *App) Snapshot(ctx context.Context) ([]timer.EntryInfo, error) {
	var out []timer.EntryInfo
	err := a.loop.Do(ctx, func(s *timer.Scheduler) { out = s.Snapshot() })
	return out, err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(a.validate)

	a.sup.Go("timer.loop", a.loop.Run)
	a.forwardCancelEvents()
	a.logEvents()

	if err := a.loadScripts(a.sup.Context(), a.cfgm.Get().Scripts); err != nil {
		a.sup.Cancel()
		return err
	}

	a.watchConfig()
	// Watch only returns on shutdown; restarts follow panics, and repeated
	// ones end the process.
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithMaxRestarts(watchMaxRestarts))

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// validate runs on hot reload, after config.Validate.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if dir := strings.TrimSpace(cfg.Scripts.Dir); dir != "" {
		st, err := os.Stat(dir)
		if err == nil && !st.IsDir() {
			return fmt.Errorf("scripts.dir: %q is not a directory", dir)
		}
	}
	return nil
}

// loadScripts creates the Lua host on the loop goroutine and runs the
// configured scripts. A failing script is logged, not fatal; a loop that
// cannot run the load is.
func (a *App) loadScripts(ctx context.Context, sc config.ScriptsConfig) error {
	var (
		loaded  int
		loadErr error
		timers  int
	)
	err := a.loop.Do(ctx, func(s *timer.Scheduler) {
		host := script.New(s, a.log.With(logx.String("comp", "script")))
		if loadErr = host.Init(); loadErr != nil {
			return
		}
		a.host = host
		loaded, loadErr = host.LoadScripts(sc.Dir, sc.Files)
		timers = s.Status()
	})
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	if loadErr != nil {
		a.log.Warn("some scripts failed to load", logx.Err(loadErr))
	}
	a.log.Info("scripts loaded", logx.Int("scripts", loaded), logx.Int("timers", timers))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeScriptsLoaded, Data: loaded})
	return nil
}

// forwardCancelEvents turns bus cancel events into NotifyExternalCancelEvent
// calls on the loop goroutine.
func (a *App) forwardCancelEvents() {
	events, unsub := a.bus.Subscribe(16, eventbus.TypeTimerCancel)
	a.sup.Go0("timer.cancel", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				err := a.loop.Post(func(s *timer.Scheduler) {
					before := s.Status()
					s.NotifyExternalCancelEvent()
					a.log.Info("external cancel event",
						logx.Any("source", e.Data),
						logx.Int("cancelled", before-s.Status()),
						logx.Int("timers", s.Status()),
					)
				})
				if err != nil {
					a.log.Warn("external cancel event dropped", logx.Err(err))
				}
			}
		}
	})
}

// logEvents logs every bus event at debug level.
func (a *App) logEvents() {
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}
