package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"quotebot/internal/storage"
	logx "quotebot/pkg/logx"
)

// DefaultFallbackDelay is used when the random source fails.
const DefaultFallbackDelay = 10 * time.Minute

// Calculator decides when the next publication happens and persists it.
type Calculator struct {
	store    Store
	policy   atomic.Pointer[TimeOfDayPolicy]
	jitter   *Jitter
	fallback time.Duration
	log      logx.Logger
	now      func() time.Time
}

type CalculatorOptions struct {
	Store    Store
	Policy   *TimeOfDayPolicy // nil means the stock policy
	Jitter   *Jitter          // nil means crypto/rand
	Fallback time.Duration    // <=0 means DefaultFallbackDelay
	Log      logx.Logger
	Now      func() time.Time
}

func NewCalculator(o CalculatorOptions) *Calculator {
	c := &Calculator{
		store:    o.Store,
		jitter:   o.Jitter,
		fallback: o.Fallback,
		log:      o.Log,
		now:      o.Now,
	}
	if c.jitter == nil {
		c.jitter = NewJitter(nil)
	}
	if c.fallback <= 0 {
		c.fallback = DefaultFallbackDelay
	}
	if c.now == nil {
		c.now = time.Now
	}
	if o.Policy == nil {
		o.Policy = MustDefaultPolicy()
	}
	c.policy.Store(o.Policy)
	return c
}

// SetPolicy swaps the time-of-day policy (config reload).
func (c *Calculator) SetPolicy(p *TimeOfDayPolicy) {
	if p != nil {
		c.policy.Store(p)
	}
}

func (c *Calculator) Policy() *TimeOfDayPolicy { return c.policy.Load() }

// ComputeNext returns the absolute time of the next publication.
//
// A persisted time still in the future is returned unchanged. Otherwise the
// window for "now" applies: if the last post is closer than the window
// minimum, the next post lands exactly on last+min; else now+jitter. The
// result is persisted; store failures are logged and never returned.
func (c *Calculator) ComputeNext(ctx context.Context) time.Time {
	now := c.now()

	var rec storage.ScheduleRecord
	if c.store != nil {
		r, ok, err := c.store.ReadSchedule(ctx)
		switch {
		case err != nil:
			c.log.Warn("schedule read failed; treating as empty", logx.Err(err))
		case ok:
			rec = r
		}
	}

	if rec.NextPostAt > now.UnixMilli() {
		next := msToTime(rec.NextPostAt)
		c.log.Info("resuming persisted schedule", logx.Time("next", next))
		return next
	}

	w := c.policy.Load().IntervalFor(now)
	var next time.Time
	if rec.LastPostAt > 0 && now.Sub(msToTime(rec.LastPostAt)) < w.Min() {
		next = msToTime(rec.LastPostAt).Add(w.Min())
		c.log.Debug("spacing floor applied", logx.String("window", w.String()), logx.Time("next", next))
	} else {
		d, err := c.jitter.Delay(w.MinMinutes, w.MaxMinutes)
		if err != nil {
			d = c.fallback
			c.log.Warn("random delay failed; using fallback", logx.Err(err), logx.Duration("fallback", d))
		}
		next = now.Add(d)
		c.log.Debug("drew delay", logx.String("window", w.String()), logx.Duration("delay", d))
	}

	if c.store != nil {
		rec.NextPostAt = next.UnixMilli()
		if err := c.store.UpsertSchedule(ctx, rec); err != nil {
			c.log.Error("schedule persist failed", logx.Err(err), logx.Time("next", next))
		}
	}
	return next
}
