package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quotebot/internal/eventbus"
	"quotebot/internal/metrics"
	"quotebot/internal/storage"
	logx "quotebot/pkg/logx"
)

// DefaultRunTimeout bounds one generate+send run.
const DefaultRunTimeout = 2 * time.Minute

// persistTimeout bounds the schedule write that follows a successful post.
const persistTimeout = 10 * time.Second

type EngineOptions struct {
	Calculator *Calculator
	Executor   *Executor
	Skip       *SkipPolicy // nil means DefaultSkipProbability
	Store      Store
	Alerter    Alerter
	Bus        eventbus.Bus
	Log        logx.Logger
	RunTimeout time.Duration
	Now        func() time.Time
	// AfterFunc arms the run timer; tests replace it to fire early.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// Engine owns the publication timer. At most one timer is armed at any
// time: every arm stops the previous timer and bumps a generation counter,
// and callbacks carrying an old generation return without running.
type Engine struct {
	calc       *Calculator
	exec       *Executor
	skip       atomic.Pointer[SkipPolicy]
	store      Store
	alert      Alerter
	bus        eventbus.Bus
	log        logx.Logger
	runTimeout time.Duration
	now        func() time.Time
	afterFunc  func(d time.Duration, f func()) *time.Timer

	root      context.Context
	closeRoot context.CancelFunc
	inflight  sync.WaitGroup

	// runMu serializes publication runs (timer, forced and manual).
	runMu sync.Mutex

	mu        sync.Mutex
	state     State
	channelID string
	timer     *time.Timer
	gen       uint64
	nextAt    time.Time
	lastRunAt time.Time
	lastPost  time.Time
	lastErr   string
	lastRunID string
	paused    bool
	closed    bool
	runs      uint64
	failures  uint64
	skips     uint64
}

func NewEngine(o EngineOptions) *Engine {
	e := &Engine{
		calc:       o.Calculator,
		exec:       o.Executor,
		store:      o.Store,
		alert:      o.Alerter,
		bus:        o.Bus,
		log:        o.Log,
		runTimeout: o.RunTimeout,
		now:        o.Now,
		afterFunc:  o.AfterFunc,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.afterFunc == nil {
		e.afterFunc = time.AfterFunc
	}
	if e.runTimeout <= 0 {
		e.runTimeout = DefaultRunTimeout
	}
	if e.calc == nil {
		e.calc = NewCalculator(CalculatorOptions{Store: o.Store, Log: o.Log, Now: e.now})
	}
	skip := o.Skip
	if skip == nil {
		skip = NewSkipPolicy(DefaultSkipProbability, nil)
	}
	e.skip.Store(skip)
	e.root, e.closeRoot = context.WithCancel(context.Background())
	// The loop counts as alive from construction; otherwise a fresh process
	// would look dead to the health monitor before its first run.
	e.lastRunAt = e.now()
	return e
}

func (e *Engine) Calculator() *Calculator { return e.calc }

// SetSkipPolicy swaps the skip policy (config reload).
func (e *Engine) SetSkipPolicy(s *SkipPolicy) {
	if s != nil {
		e.skip.Store(s)
	}
}

// SchedulePost validates channelID, replaces any armed timer, computes the
// next time and arms exactly one timer for it.
func (e *Engine) SchedulePost(ctx context.Context, channelID string) error {
	if err := ValidateChannelID(channelID); err != nil {
		e.log.Error("schedule rejected", logx.Err(err))
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.stopTimerLocked()
	e.channelID = channelID
	e.paused = false
	gen := e.gen
	e.mu.Unlock()

	next := e.calc.ComputeNext(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		// A concurrent arm or cancel won; it owns the timer now.
		return nil
	}
	delay := max(next.Sub(e.now()), 0)
	e.gen++
	g := e.gen
	e.timer = e.afterFunc(delay, func() { e.fire(g) })
	e.nextAt = next
	e.state = StateScheduled

	metrics.SetNextPost(next)
	e.publish(eventbus.PostScheduled, eventbus.RunInfo{Next: next})
	e.log.Info("next post scheduled",
		logx.Time("at", next), logx.Duration("in", delay.Round(time.Second)), logx.String("channel", channelID))
	return nil
}

// ForcePost marks the schedule as due now, publishes immediately without
// the skip coin flip and then re-enters normal scheduling. The publication
// error, if any, is returned after rescheduling.
func (e *Engine) ForcePost(ctx context.Context, channelID string) error {
	if err := ValidateChannelID(channelID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.stopTimerLocked()
	e.channelID = channelID
	e.paused = false
	e.state = StateRunning
	gen := e.gen
	e.mu.Unlock()

	if e.store != nil {
		rec, _, err := e.store.ReadSchedule(ctx)
		if err != nil {
			e.log.Warn("schedule read failed before forced post", logx.Err(err))
		}
		rec.NextPostAt = e.now().UnixMilli()
		if err := e.store.UpsertSchedule(ctx, rec); err != nil {
			e.log.Error("schedule reset failed before forced post", logx.Err(err))
		}
	}

	runErr := e.runOnce(channelID, true)

	e.mu.Lock()
	resched := gen == e.gen && !e.closed
	e.mu.Unlock()
	if resched {
		if err := e.SchedulePost(context.WithoutCancel(ctx), channelID); err != nil && runErr == nil {
			return err
		}
	}
	return runErr
}

// PublishNow publishes once to channelID without touching the schedule,
// the skip policy or the run bookkeeping.
func (e *Engine) PublishNow(ctx context.Context, channelID string) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()
	return e.exec.Run(ctx, channelID)
}

// CancelSchedule stops the armed timer. A run already in flight completes
// but is not followed by a reschedule. No-op when nothing is armed or running.
func (e *Engine) CancelSchedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *Engine) cancelLocked() {
	if e.timer == nil && e.state != StateRunning {
		return
	}
	e.stopTimerLocked()
	e.state = StateCancelled
	e.nextAt = time.Time{}
	metrics.SetNextPost(time.Time{})
	e.publish(eventbus.LoopCancelled, eventbus.RunInfo{})
	e.log.Info("schedule cancelled")
}

// Pause cancels the schedule and keeps it cancelled: the health monitor
// does not recover a paused engine. SchedulePost or ForcePost resumes.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.paused = true
}

// Disable pauses the engine and forgets its channel, so nothing can re-arm
// it until SchedulePost or ForcePost names a channel again.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.paused = true
	e.channelID = ""
}

// Restart is the recovery path: cancel, then schedule again for the known
// channel. reason is logged and published.
func (e *Engine) Restart(ctx context.Context, reason string) error {
	e.mu.Lock()
	ch := e.channelID
	e.mu.Unlock()
	if ch == "" {
		return fmt.Errorf("%w: no channel known", ErrConfiguration)
	}
	e.CancelSchedule()
	if err := e.SchedulePost(ctx, ch); err != nil {
		return err
	}
	e.publish(eventbus.LoopRecovered, eventbus.RunInfo{Next: e.Snapshot().NextAt})
	e.log.Warn("publication loop restarted", logx.String("reason", reason))
	return nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:     e.state,
		ChannelID: e.channelID,
		NextAt:    e.nextAt,
		LastRunAt: e.lastRunAt,
		LastPost:  e.lastPost,
		LastErr:   e.lastErr,
		LastRunID: e.lastRunID,
		Paused:    e.paused,
		Runs:      e.runs,
		Failures:  e.failures,
		Skips:     e.skips,
	}
}

// Close stops the timer, aborts in-flight runs and waits for them.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTimerLocked()
	e.state = StateIdle
	e.mu.Unlock()
	e.closeRoot()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.closed || e.state != StateScheduled {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.state = StateRunning
	ch := e.channelID
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	_ = e.runOnce(ch, false)

	e.mu.Lock()
	resched := gen == e.gen && !e.closed
	if resched {
		e.state = StateIdle
	}
	e.mu.Unlock()
	if resched {
		_ = e.SchedulePost(e.root, ch)
	}
}

// runOnce executes one run. It never panics.
func (e *Engine) runOnce(channelID string, forced bool) (err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	runID := uuid.NewString()
	log := e.log.With(logx.String("run_id", runID), logx.Bool("forced", forced))
	started := time.Now()

	e.mu.Lock()
	e.lastRunID = runID
	e.runs++
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("publication run panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
			e.recordFailure(log, runID, forced, err, started)
		}
	}()

	if !forced && e.skip.Load().ShouldSkip() {
		now := e.now()
		e.mu.Lock()
		e.lastRunAt = now
		e.skips++
		e.mu.Unlock()
		metrics.ObserveRun(metrics.OutcomeSkipped, forced, 0)
		e.publish(eventbus.PostSkipped, eventbus.RunInfo{RunID: runID})
		log.Info("run skipped by coin flip")
		return nil
	}

	ctx, cancel := context.WithTimeout(e.root, e.runTimeout)
	defer cancel()

	if err := e.exec.Run(ctx, channelID); err != nil {
		e.recordFailure(log, runID, forced, err, started)
		return err
	}

	now := e.now()
	if e.store != nil {
		// The run deadline may be nearly spent; the record must still land.
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		rec := storage.ScheduleRecord{LastPostAt: now.UnixMilli(), NextPostAt: 0}
		if err := e.store.UpsertSchedule(pctx, rec); err != nil {
			log.Error("schedule persist after post failed", logx.Err(err))
		}
		pcancel()
	}
	e.mu.Lock()
	e.lastRunAt = now
	e.lastPost = now
	e.lastErr = ""
	e.mu.Unlock()

	metrics.ObserveRun(metrics.OutcomePosted, forced, time.Since(started))
	e.publish(eventbus.PostPublished, eventbus.RunInfo{RunID: runID, Forced: forced})
	return nil
}

func (e *Engine) recordFailure(log logx.Logger, runID string, forced bool, err error, started time.Time) {
	e.mu.Lock()
	e.failures++
	e.lastErr = err.Error()
	e.mu.Unlock()

	log.Error("publication run failed", logx.Err(err))
	metrics.ObserveRun(metrics.OutcomeFailed, forced, time.Since(started))
	e.publish(eventbus.PostFailed, eventbus.RunInfo{RunID: runID, Forced: forced, Err: err})
	if e.alert != nil && !errors.Is(err, context.Canceled) {
		e.alert.Alert(e.root, "publisher", err)
	}
}

func (e *Engine) publish(typ string, info eventbus.RunInfo) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: info})
}
