package app

import (
	"context"
	"strings"

	"timermux/internal/config"
	"timermux/internal/eventbus"
	"timermux/internal/timer"
	logx "timermux/pkg/logx"
)

// watchConfig applies hot-reloaded configs. Logging and timer.debug take
// effect immediately; other sections are logged as needing a restart.
func (a *App) watchConfig() {
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
				newCfg = latest(sub, newCfg)
				a.apply(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// latest drains queued configs and returns the newest one.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(logConfig(newCfg))

	debug := newCfg.Timer.Debug
	if err := a.loop.Post(func(s *timer.Scheduler) { s.SetDebug(debug) }); err != nil {
		a.log.Warn("timer debug not applied", logx.Err(err))
	}

	if restart {
		a.log.Warn("config changes need a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
}
