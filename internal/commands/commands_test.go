package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quotebot/internal/publisher"
	kit "quotebot/internal/transport"
	"quotebot/internal/transport/telegram/router"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	sendErr error
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil && to.ChatID != 7 {
		return kit.MessageRef{}, a.sendErr
	}
	a.sent = append(a.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

type fakeLoop struct {
	calls  []string
	err    error
	paused bool
	snap   publisher.Snapshot
}

func (l *fakeLoop) PublishNow(_ context.Context, ch string) error {
	l.calls = append(l.calls, "publish:"+ch)
	return l.err
}
func (l *fakeLoop) ForcePost(_ context.Context, ch string) error {
	l.calls = append(l.calls, "force:"+ch)
	return l.err
}
func (l *fakeLoop) SchedulePost(_ context.Context, ch string) error {
	l.calls = append(l.calls, "schedule:"+ch)
	l.paused = false
	return l.err
}
func (l *fakeLoop) Pause()                       { l.calls = append(l.calls, "pause"); l.paused = true }
func (l *fakeLoop) Snapshot() publisher.Snapshot { return l.snap }

type fakeHealth struct {
	healthy bool
	checks  int
}

func (h *fakeHealth) CheckHealth(context.Context) bool { h.checks++; return h.healthy }
func (h *fakeHealth) Last() publisher.ProbeResult {
	return publisher.ProbeResult{Healthy: h.healthy, Reason: "post overdue"}
}

const channel = "-1001234567890"

func newSet(loop *fakeLoop, health Health, accept bool) *Set {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	return New(Deps{
		Loop:              loop,
		Health:            health,
		Now:               func() time.Time { return now },
		Channel:           func() string { return channel },
		AcceptSubmissions: func() bool { return accept },
	})
}

func request(ad *fakeAdapter) *router.Request {
	return &router.Request{Chat: kit.ChatTarget{ChatID: 7}, FromID: 7, FromUsername: "alice", Private: true, Adapter: ad}
}

func handler(t *testing.T, s *Set, name string) router.HandlerFunc {
	t.Helper()
	for _, c := range s.Commands() {
		if c.Name == name {
			if c.Access != router.AccessOwnerOnly {
				t.Fatalf("/%s is not owner-only", name)
			}
			return c.Handle
		}
	}
	t.Fatalf("no /%s command", name)
	return nil
}

func TestLoopCommands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cmd       string
		wantCall  string
		wantReply string
	}{
		{"send", "publish:" + channel, "published"},
		{"force", "force:" + channel, "forced post published"},
		{"pause", "pause", "/resume"},
		{"resume", "schedule:" + channel, "next post at"},
	}
	for _, tc := range cases {
		loop := &fakeLoop{}
		ad := &fakeAdapter{}
		if err := handler(t, newSet(loop, nil, false), tc.cmd)(context.Background(), request(ad)); err != nil {
			t.Fatalf("/%s: %v", tc.cmd, err)
		}
		if len(loop.calls) != 1 || loop.calls[0] != tc.wantCall {
			t.Fatalf("/%s calls = %v", tc.cmd, loop.calls)
		}
		if len(ad.sent) != 1 || !strings.Contains(ad.sent[0].text, tc.wantReply) {
			t.Fatalf("/%s reply = %+v", tc.cmd, ad.sent)
		}
	}
}

func TestForceReportsFailure(t *testing.T) {
	t.Parallel()
	loop := &fakeLoop{err: errors.New("generator down")}
	ad := &fakeAdapter{}
	err := handler(t, newSet(loop, nil, false), "force")(context.Background(), request(ad))
	if err == nil || !strings.Contains(ad.sent[0].text, "generator down") {
		t.Fatalf("err=%v reply=%+v", err, ad.sent)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	loop := &fakeLoop{snap: publisher.Snapshot{
		State:     publisher.StateCancelled,
		Paused:    true,
		ChannelID: channel,
		LastErr:   "boom <x>",
		Runs:      4,
	}}
	ad := &fakeAdapter{}
	if err := handler(t, newSet(loop, nil, false), "status")(context.Background(), request(ad)); err != nil {
		t.Fatal(err)
	}
	txt := ad.sent[0].text
	for _, want := range []string{"cancelled (paused)", channel, "next: <code>-</code>", "runs: 4", "boom &lt;x&gt;"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("status lacks %q:\n%s", want, txt)
		}
	}
}

func TestHealthCommand(t *testing.T) {
	t.Parallel()
	h := &fakeHealth{healthy: false}
	ad := &fakeAdapter{}
	if err := handler(t, newSet(&fakeLoop{}, h, false), "health")(context.Background(), request(ad)); err != nil {
		t.Fatal(err)
	}
	if h.checks != 1 || !strings.Contains(ad.sent[0].text, "post overdue") {
		t.Fatalf("checks=%d reply=%q", h.checks, ad.sent[0].text)
	}

	ad = &fakeAdapter{}
	_ = handler(t, newSet(&fakeLoop{}, nil, false), "health")(context.Background(), request(ad))
	if !strings.Contains(ad.sent[0].text, "disabled") {
		t.Fatalf("reply = %q", ad.sent[0].text)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	req := request(ad)
	req.Text = "Be <kind>."
	if err := newSet(&fakeLoop{}, nil, true).Submit(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(ad.sent) != 2 {
		t.Fatalf("sent = %+v", ad.sent)
	}
	if fwd := ad.sent[0]; fwd.to.ChatID != -1001234567890 || fwd.text != "Be <kind>.\n\n@alice" {
		t.Fatalf("forward = %+v", fwd)
	}
	if !strings.Contains(ad.sent[1].text, "Thank you") {
		t.Fatalf("thanks = %q", ad.sent[1].text)
	}
}

func TestSubmitDisabled(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	req := request(ad)
	req.Text = "hello"
	if err := newSet(&fakeLoop{}, nil, false).Submit(context.Background(), req); err != nil || len(ad.sent) != 0 {
		t.Fatalf("err=%v sent=%+v", err, ad.sent)
	}
}

func TestSubmitForwardFailure(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{sendErr: errors.New("chat not found")}
	req := request(ad)
	req.Text = "hello"
	err := newSet(&fakeLoop{}, nil, true).Submit(context.Background(), req)
	if err == nil || len(ad.sent) != 1 || !strings.Contains(ad.sent[0].text, "could not be delivered") {
		t.Fatalf("err=%v sent=%+v", err, ad.sent)
	}
}
