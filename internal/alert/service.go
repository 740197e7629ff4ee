// Package alert delivers operator alerts to the admin chat and answers the
// alert keyboard: last error, saved errors, alert toggle, diagnostics.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quotebot/internal/eventbus"
	"quotebot/internal/metrics"
	"quotebot/internal/publisher"
	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
	"quotebot/pkg/tgui"
)

const (
	DefaultRatePerMin = 6
	DefaultSavedMax   = 100
)

// Settings persists the alerts on/off flag.
type Settings interface {
	GetSettings(ctx context.Context) (storage.AdminSettings, error)
	PutSettings(ctx context.Context, v storage.AdminSettings) error
}

// Loop is the slice of the publication engine the keyboard drives.
type Loop interface {
	Restart(ctx context.Context, reason string) error
	Snapshot() publisher.Snapshot
}

type Options struct {
	Adapter    kit.Adapter
	Settings   Settings
	Loop       Loop
	Chat       kit.ChatTarget
	RatePerMin int
	SavedMax   int
	Disabled   bool // config kill switch, independent of the persisted toggle
	Log        logx.Logger
	Now        func() time.Time
	// Driver names the storage backend in diagnostics.
	Driver string
	// Shutdown stops the process (alert:shutdown).
	Shutdown func()
}

// Record is one captured error.
type Record struct {
	At     time.Time
	Module string
	Err    string
}

func (r Record) String() string {
	return fmt.Sprintf("[%s] %s: %s", r.At.UTC().Format(time.RFC3339), r.Module, r.Err)
}

type outgoing struct {
	text    string
	buttons bool
}

type Service struct {
	adapter  kit.Adapter
	settings Settings
	loop     Loop
	log      logx.Logger
	now      func() time.Time
	driver   string
	shutdown func()
	started  time.Time

	queue chan outgoing

	mu         sync.Mutex
	chat       kit.ChatTarget
	limiter    *rate.Limiter
	savedMax   int
	disabled   bool
	enabled    bool
	last       *Record
	saved      []Record
	suppressed uint64
}

func New(o Options) *Service {
	s := &Service{
		adapter:  o.Adapter,
		settings: o.Settings,
		loop:     o.Loop,
		log:      o.Log,
		now:      o.Now,
		driver:   o.Driver,
		shutdown: o.Shutdown,
		queue:    make(chan outgoing, 32),
		chat:     o.Chat,
		enabled:  true,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()
	s.applyLimits(o.RatePerMin, o.SavedMax, o.Disabled)
	return s
}

func (s *Service) applyLimits(perMin, savedMax int, disabled bool) {
	if perMin <= 0 {
		perMin = DefaultRatePerMin
	}
	if savedMax <= 0 {
		savedMax = DefaultSavedMax
	}
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)
	s.savedMax = savedMax
	s.disabled = disabled
	if over := len(s.saved) - savedMax; over > 0 {
		s.saved = append([]Record(nil), s.saved[over:]...)
	}
}

// Reconfigure applies reloaded settings.
func (s *Service) Reconfigure(chat kit.ChatTarget, perMin, savedMax int, disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = chat
	s.applyLimits(perMin, savedMax, disabled)
}

// Load reads the persisted toggle. A store failure keeps alerts enabled.
func (s *Service) Load(ctx context.Context) {
	if s.settings == nil {
		return
	}
	v, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.log.Warn("alert settings unavailable; alerts stay enabled", logx.Err(err))
		return
	}
	s.mu.Lock()
	s.enabled = v.AlertsEnabled
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.disabled
}

// Alert records err and, when alerts are on and the rate allows, queues an
// admin message with the action keyboard. It never blocks.
func (s *Service) Alert(_ context.Context, module string, err error) {
	if err == nil {
		return
	}
	rec := Record{At: s.now(), Module: module, Err: err.Error()}

	s.mu.Lock()
	s.last = &rec
	s.saved = append(s.saved, rec)
	if over := len(s.saved) - s.savedMax; over > 0 {
		s.saved = s.saved[over:]
	}
	deliver := s.enabled && !s.disabled && !s.chat.IsZero() && s.limiter.Allow()
	if !deliver {
		s.suppressed++
	}
	s.mu.Unlock()

	if !deliver {
		metrics.ObserveAlert(false)
		return
	}
	text := "🚨 <b>Error</b> in " + tgui.Code(module) + "\n" + tgui.Esc(truncate(rec.Err, 3000))
	s.enqueue(outgoing{text: text, buttons: true})
}

// Notice sends an informational admin message under the same gating.
func (s *Service) Notice(text string) {
	s.mu.Lock()
	deliver := s.enabled && !s.disabled && !s.chat.IsZero() && s.limiter.Allow()
	s.mu.Unlock()
	if deliver {
		s.enqueue(outgoing{text: text})
	}
}

func (s *Service) enqueue(o outgoing) {
	select {
	case s.queue <- o:
	default:
		metrics.ObserveAlert(false)
		s.log.Warn("alert queue full; dropping")
	}
}

// Run delivers queued alerts and turns loop events into notices until ctx ends.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	var events <-chan eventbus.Event
	if bus != nil {
		ch, unsubscribe := bus.Subscribe(16)
		defer unsubscribe()
		events = ch
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-s.queue:
			s.deliver(ctx, o)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.onEvent(ev)
		}
	}
}

func (s *Service) onEvent(ev eventbus.Event) {
	if ev.Type != eventbus.LoopRecovered {
		return
	}
	info, _ := ev.Data.(eventbus.RunInfo)
	msg := "♻️ Publication loop restarted"
	if !info.Next.IsZero() {
		msg += "; next post at " + info.Next.Format("15:04:05")
	}
	s.Notice(msg)
}

func (s *Service) deliver(ctx context.Context, o outgoing) {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if o.buttons {
		opt.Buttons = Keyboard()
	}
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := s.adapter.SendText(sctx, chat, o.text, opt)
	metrics.ObserveAlert(err == nil)
	if err != nil {
		// Not logged at error level: the Telegram log sink would loop it back.
		s.log.Warn("alert delivery failed", logx.Err(err))
	}
}

// Keyboard is the action keyboard attached to error alerts.
func Keyboard() [][]kit.InlineButton {
	return [][]kit.InlineButton{
		{btn("🙈 Ignore", "ignore"), btn("🔄 Restart loop", "restart")},
		{btn("🔍 Details", "details"), btn("💾 Saved", "save")},
		{btn("🔕 Toggle alerts", "toggle"), btn("🩺 Diagnostics", "diag")},
		{btn("⛔ Shut down", "shutdown")},
	}
}

func btn(text, action string) kit.InlineButton {
	return kit.InlineButton{Text: text, Data: tgui.Data(prefix, action, "")}
}

// LastError returns the most recent record, if any.
func (s *Service) LastError() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Record{}, false
	}
	return *s.last, true
}

func (s *Service) Saved() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.saved...)
}

// Toggle flips and persists the alerts flag, returning the new value.
func (s *Service) Toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	next := !s.enabled
	s.mu.Unlock()

	if s.settings != nil {
		if err := s.settings.PutSettings(ctx, storage.AdminSettings{AlertsEnabled: next}); err != nil {
			return !next, fmt.Errorf("persist alert toggle: %w", err)
		}
	}
	s.mu.Lock()
	s.enabled = next
	s.mu.Unlock()
	return next, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
