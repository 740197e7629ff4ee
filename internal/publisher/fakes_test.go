package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	panic bool
	// during runs inside Generate, before content is returned.
	during func()
}

func (g *fakeGenerator) Generate(context.Context) (Content, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.during != nil {
		g.during()
	}
	if g.panic {
		panic("generator blew up")
	}
	if g.err != nil {
		return Content{}, g.err
	}
	return Content{Message: "🌿 - Slow is smooth", Topic: "patience"}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sentMessage struct {
	Chat string
	Text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, chatID, text string, _ *kit.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{Chat: chatID, Text: text})
	return nil
}

func (s *fakeSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeAlerter struct {
	mu   sync.Mutex
	errs []error
}

func (a *fakeAlerter) Alert(_ context.Context, _ string, err error) {
	a.mu.Lock()
	a.errs = append(a.errs, err)
	a.mu.Unlock()
}

func (a *fakeAlerter) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.errs...)
}

// manualTimers records armed timers; tests fire them by hand.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) *time.Timer {
	m.mu.Lock()
	m.delays = append(m.delays, d)
	m.funcs = append(m.funcs, f)
	m.mu.Unlock()
	return time.AfterFunc(time.Hour, func() {})
}

func (m *manualTimers) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.funcs)
}

func (m *manualTimers) Fire(i int) {
	m.mu.Lock()
	f := m.funcs[i]
	m.mu.Unlock()
	f()
}

func (m *manualTimers) FireLast() { m.Fire(m.Count() - 1) }

type failingStore struct{}

func (failingStore) ReadSchedule(context.Context) (storage.ScheduleRecord, bool, error) {
	return storage.ScheduleRecord{}, false, errors.New("disk on fire")
}

func (failingStore) UpsertSchedule(context.Context, storage.ScheduleRecord) error {
	return errors.New("disk on fire")
}

const testChannel = "-1001234567890"

type engineFixture struct {
	clock  *fakeClock
	store  *storage.MemoryStore
	gen    *fakeGenerator
	send   *fakeSender
	alerts *fakeAlerter
	timers *manualTimers
	engine *Engine
}

// newEngineFixture builds an engine at 10:00 local whose jitter always
// draws the window minimum (5m during the day).
func newEngineFixture(skip float64) *engineFixture {
	policy := MustDefaultPolicy()
	f := &engineFixture{
		clock:  newFakeClock(time.Date(2025, 3, 10, 10, 0, 0, 0, policy.Location())),
		store:  storage.NewMemory(),
		gen:    &fakeGenerator{},
		send:   &fakeSender{},
		alerts: &fakeAlerter{},
		timers: &manualTimers{},
	}
	calc := NewCalculator(CalculatorOptions{
		Store:  f.store,
		Policy: policy,
		Jitter: NewJitter(zeroReader{}),
		Now:    f.clock.Now,
	})
	f.engine = NewEngine(EngineOptions{
		Calculator: calc,
		Executor:   NewExecutor(f.gen, f.send, "", logx.Logger{}),
		Skip:       NewSkipPolicy(skip, zeroReader{}),
		Store:      f.store,
		Alerter:    f.alerts,
		Now:        f.clock.Now,
		AfterFunc:  f.timers.AfterFunc,
	})
	return f
}

func (f *engineFixture) record() storage.ScheduleRecord {
	rec, _, _ := f.store.ReadSchedule(context.Background())
	return rec
}
