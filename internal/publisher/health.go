package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quotebot/internal/metrics"
	logx "quotebot/pkg/logx"
)

const (
	DefaultHealthGrace    = 10 * time.Minute
	DefaultHealthInterval = 5 * time.Minute
	DefaultProbeInterval  = 15 * time.Minute
)

type HealthOptions struct {
	Engine   *Engine
	Grace    time.Duration
	Interval time.Duration
	// ProbeMinInterval throttles Probe; within it the cached verdict is served.
	ProbeMinInterval time.Duration
	Location         *time.Location
	Log              logx.Logger
	Now              func() time.Time
	// OnHealthy runs after every healthy periodic check (watchdog ping).
	OnHealthy func()
}

// ProbeResult is what an external liveness probe gets back.
type ProbeResult struct {
	Healthy   bool
	Cached    bool
	CheckedAt time.Time
	Reason    string
}

// HealthMonitor detects a stalled publication loop and restarts it.
type HealthMonitor struct {
	engine        *Engine
	grace         time.Duration
	interval      time.Duration
	probeInterval time.Duration
	loc           *time.Location
	log           logx.Logger
	now           func() time.Time
	onHealthy     func()

	mu   sync.Mutex
	c    *cron.Cron
	last ProbeResult
}

func NewHealthMonitor(o HealthOptions) *HealthMonitor {
	h := &HealthMonitor{
		engine:        o.Engine,
		grace:         o.Grace,
		interval:      o.Interval,
		probeInterval: o.ProbeMinInterval,
		loc:           o.Location,
		log:           o.Log,
		now:           o.Now,
		onHealthy:     o.OnHealthy,
	}
	if h.grace <= 0 {
		h.grace = DefaultHealthGrace
	}
	if h.interval <= 0 {
		h.interval = DefaultHealthInterval
	}
	if h.probeInterval <= 0 {
		h.probeInterval = DefaultProbeInterval
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Evaluate applies the liveness rules to a snapshot without side effects.
//
// With a next time set, the loop is stalled once now passes next+grace and
// no run completed at or after next. Without one, it is stalled once the
// last run is older than grace.
func (h *HealthMonitor) Evaluate(s Snapshot, now time.Time) (bool, string) {
	if s.Paused {
		if s.ChannelID == "" {
			return true, "disabled"
		}
		return true, "paused"
	}
	if !s.NextAt.IsZero() {
		if now.After(s.NextAt.Add(h.grace)) && s.LastRunAt.Before(s.NextAt) {
			return false, fmt.Sprintf("post due at %s is overdue", s.NextAt.In(h.loc).Format(time.DateTime))
		}
		return true, ""
	}
	if now.Sub(s.LastRunAt) > h.grace {
		return false, "nothing scheduled and no recent run"
	}
	return true, ""
}

// CheckHealth evaluates the loop and, if it is stalled and a channel is
// known, cancels the stale timer and schedules again. It reports the
// verdict from before recovery.
func (h *HealthMonitor) CheckHealth(ctx context.Context) bool {
	now := h.now()
	snap := h.engine.Snapshot()
	healthy, reason := h.Evaluate(snap, now)

	recovered := false
	if !healthy {
		h.log.Warn("publication loop unhealthy", logx.String("reason", reason),
			logx.Time("next", snap.NextAt), logx.Time("last_run", snap.LastRunAt))
		if snap.ChannelID == "" {
			h.log.Warn("no channel known; skipping recovery")
		} else if err := h.engine.Restart(ctx, reason); err != nil {
			h.log.Error("recovery failed", logx.Err(err))
		} else {
			recovered = true
		}
	} else {
		h.log.Debug("publication loop healthy", logx.String("state", snap.State.String()))
	}
	metrics.ObserveHealth(healthy, recovered)

	h.mu.Lock()
	h.last = ProbeResult{Healthy: healthy, CheckedAt: now, Reason: reason}
	h.mu.Unlock()
	return healthy
}

// Probe serves liveness checks from outside. A real check runs at most once
// per ProbeMinInterval; other calls get the last verdict with Cached set.
func (h *HealthMonitor) Probe(ctx context.Context) ProbeResult {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if !last.CheckedAt.IsZero() && h.now().Sub(last.CheckedAt) < h.probeInterval {
		last.Cached = true
		return last
	}
	h.CheckHealth(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Last returns the most recent verdict; CheckedAt is zero before the first check.
func (h *HealthMonitor) Last() ProbeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Start registers the periodic check. Calling Start twice is a no-op.
func (h *HealthMonitor) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.c != nil {
		return nil
	}
	c := cron.New(
		cron.WithLocation(h.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	expr := "@every " + h.interval.String()
	if _, err := c.AddFunc(expr, func() {
		if h.CheckHealth(ctx) && h.onHealthy != nil {
			h.onHealthy()
		}
	}); err != nil {
		return fmt.Errorf("health schedule %q: %w", expr, err)
	}
	c.Start()
	h.c = c
	h.log.Info("health monitor started", logx.Duration("interval", h.interval), logx.Duration("grace", h.grace))
	return nil
}

// Stop halts periodic checks and waits for a running one, bounded by ctx.
func (h *HealthMonitor) Stop(ctx context.Context) {
	h.mu.Lock()
	c := h.c
	h.c = nil
	h.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	h.log.Info("health monitor stopped")
}
