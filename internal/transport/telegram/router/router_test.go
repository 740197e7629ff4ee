package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (a *fakeAdapter) AnswerCallback(_ context.Context, id string, text string) error {
	a.mu.Lock()
	a.answered = append(a.answered, id+"="+text)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const owner = int64(42)

func startManager(t *testing.T, m *Manager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func message(from int64, text string, private bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: from, FromID: from, FromUsername: "user", Text: text, IsPrivate: private,
	}}
}

func TestOwnerOnlyCommands(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	var audits []storage.AuditEntry
	var auditMu sync.Mutex
	m := New(Options{Adapter: ad, Owners: []int64{owner}, Workers: 2, Audit: func(_ context.Context, e storage.AuditEntry) {
		auditMu.Lock()
		audits = append(audits, e)
		auditMu.Unlock()
	}})
	m.SetRegistry([]Command{{
		Name:   "force",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "forced", nil) },
	}}, nil, nil)
	updates := startManager(t, m)

	updates <- message(7, "/force", true)
	waitFor(t, "unauthorized reply", func() bool { return len(ad.Sent()) == 1 })
	if got := ad.Sent()[0]; got != "unauthorized" {
		t.Fatalf("stranger got %q", got)
	}

	updates <- message(owner, "/force@quotebot", true)
	waitFor(t, "forced reply", func() bool { return len(ad.Sent()) == 2 })
	if got := ad.Sent()[1]; got != "forced" {
		t.Fatalf("owner got %q", got)
	}
	waitFor(t, "audit entry", func() bool {
		auditMu.Lock()
		defer auditMu.Unlock()
		return len(audits) == 1
	})
	auditMu.Lock()
	defer auditMu.Unlock()
	if a := audits[0]; a.ActorID != owner || a.Action != "force" || !a.OK {
		t.Fatalf("audit = %+v", a)
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := New(Options{Adapter: ad, Owners: []int64{owner}})
	m.SetRegistry([]Command{
		{Name: "status", Access: AccessOwnerOnly, Description: "loop state", Handle: func(context.Context, *Request) error { return nil }},
	}, nil, nil)

	if txt := m.helpText(7); strings.Contains(txt, "/status") || !strings.Contains(txt, "/help") {
		t.Fatalf("stranger help:\n%s", txt)
	}
	if txt := m.helpText(owner); !strings.Contains(txt, "🔒 <code>/status</code>") {
		t.Fatalf("owner help:\n%s", txt)
	}
}

func TestPrivateTextGoesToTextHandler(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := New(Options{Adapter: ad})
	got := make(chan *Request, 2)
	m.SetRegistry(nil, nil, func(_ context.Context, req *Request) error {
		got <- req
		return nil
	})
	updates := startManager(t, m)

	updates <- message(7, "hello from a group", false)
	updates <- message(7, "  Be kind.  ", true)
	select {
	case req := <-got:
		if req.Text != "Be kind." || req.FromUsername != "user" || !req.Private {
			t.Fatalf("request = %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("text handler not called")
	}
	select {
	case req := <-got:
		t.Fatalf("group text reached handler: %+v", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := New(Options{Adapter: ad, Owners: []int64{owner}})
	payloads := make(chan string, 2)
	m.SetRegistry(nil, []CallbackRoute{{
		Prefix: "alert",
		Action: "details",
		Handle: func(_ context.Context, _ *Request, payload string) error {
			payloads <- payload
			return nil
		},
	}}, nil)
	updates := startManager(t, m)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "a", FromID: 7, Data: "alert:details:x"}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "b", FromID: owner, Data: "alert:details:x"}}

	select {
	case p := <-payloads:
		if p != "x" {
			t.Fatalf("payload = %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not handled")
	}
	waitFor(t, "callback answers", func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.answered) == 2
	})
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if ad.answered[0] != "a=forbidden" {
		t.Fatalf("answers = %v", ad.answered)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Help":       "help",
		"alert-diag": "alert_diag",
		"9lives":     "cmd_9lives",
		"!!":         "",
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildMenuSkipsOwnerCommands(t *testing.T) {
	t.Parallel()
	menu := buildMenu([]Command{
		{Name: "help", Description: "show help"},
		{Name: "force", Access: AccessOwnerOnly},
	})
	if len(menu) != 1 || menu[0].Command != "help" {
		t.Fatalf("menu = %+v", menu)
	}
}
