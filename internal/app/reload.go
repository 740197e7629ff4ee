package app

import (
	"context"
	"strings"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/publisher"
	logx "quotebot/pkg/logx"
)

func (a *App) reloadLoop(c context.Context) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg := <-a.cfgm.Updates():
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the live-reloadable sections: logging, owners, alerts,
// publisher policy and channel, health. Storage, HTTP and generator changes
// need a restart.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rr, ",")))
	}

	admin, _ := adminTarget(newCfg)
	a.logs.SetTelegramTarget(admin)
	a.logs.Apply(mapLogging(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.alerts.Reconfigure(admin, newCfg.Alerts.RatePerMin, newCfg.Alerts.SavedMax, newCfg.Alerts.Disabled)

	if pol, skip, err := mapPolicy(newCfg); err != nil {
		a.log.Warn("invalid publisher policy; keeping previous", logx.Err(err))
	} else {
		a.engine.Calculator().SetPolicy(pol)
		a.engine.SetSkipPolicy(publisher.NewSkipPolicy(skip, nil))
	}

	prev := a.live.Load()
	pc := newCfg.Publisher
	a.live.Store(&pc)
	a.applyChannel(c, prev, &pc)

	if !sameHealth(oldCfg.Health, newCfg.Health) {
		a.swapHealth(c, newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyChannel re-arms or cancels the loop when publishing is toggled or
// the channel moves.
func (a *App) applyChannel(c context.Context, prev, next *config.PublisherConfig) {
	prevCh, nextCh := "", ""
	if prev.Enabled {
		prevCh = strings.TrimSpace(prev.ChannelID)
	}
	if next.Enabled {
		nextCh = strings.TrimSpace(next.ChannelID)
	}
	switch {
	case prevCh == nextCh:
	case nextCh == "":
		a.log.Info("publisher disabled via config")
		a.engine.Disable()
	default:
		a.log.Info("publisher channel changed via config", logx.String("channel", nextCh))
		if err := a.engine.SchedulePost(c, nextCh); err != nil {
			a.log.Warn("reschedule after reload failed", logx.Err(err))
		}
	}
}

func sameHealth(x, y config.HealthConfig) bool { return x == y }

func (a *App) swapHealth(c context.Context, cfg *config.Config) {
	var next *publisher.HealthMonitor
	if cfg.Health.Enabled {
		h, err := a.newHealth(cfg)
		if err != nil {
			a.log.Warn("invalid health config; keeping previous", logx.Err(err))
			return
		}
		next = h
	}

	a.healthMu.Lock()
	prev := a.health
	a.health = next
	a.healthMu.Unlock()

	if prev != nil {
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		prev.Stop(stopCtx)
		cancel()
	}
	if next != nil {
		if err := next.Start(c); err != nil {
			a.log.Warn("health monitor start failed", logx.Err(err))
		}
	}
}
