package alert

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"quotebot/internal/transport/telegram/router"
	"quotebot/pkg/tgui"
)

const prefix = "alert"

// Callbacks returns the routes behind Keyboard. All are owner-only.
func (s *Service) Callbacks() []router.CallbackRoute {
	route := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Prefix: prefix, Action: action, Timeout: 30 * time.Second, Handle: h}
	}
	return []router.CallbackRoute{
		route("ignore", s.onIgnore),
		route("restart", s.onRestart),
		route("details", s.onDetails),
		route("save", s.onSave),
		route("toggle", s.onToggle),
		route("diag", s.onDiag),
		route("shutdown", s.onShutdown),
	}
}

func (s *Service) onIgnore(_ context.Context, req *router.Request, _ string) error {
	req.Answer = "Ignored"
	return nil
}

func (s *Service) onRestart(ctx context.Context, req *router.Request, _ string) error {
	if s.loop == nil {
		req.Answer = "No loop to restart"
		return nil
	}
	if err := s.loop.Restart(ctx, "operator"); err != nil {
		req.Answer = "Restart failed"
		return req.ReplyHTML(ctx, "❌ Restart failed: "+tgui.Esc(err.Error()))
	}
	req.Answer = "Loop restarted"
	return nil
}

func (s *Service) onDetails(ctx context.Context, req *router.Request, _ string) error {
	rec, ok := s.LastError()
	if !ok {
		req.Answer = "No details"
		return req.ReplyHTML(ctx, "No error details available.")
	}
	return req.ReplyHTML(ctx, tgui.Pre(truncate(rec.String(), 3500)))
}

func (s *Service) onSave(ctx context.Context, req *router.Request, _ string) error {
	if _, ok := s.LastError(); !ok {
		req.Answer = "Nothing to save"
		return nil
	}
	saved := s.Saved()
	var b strings.Builder
	fmt.Fprintf(&b, "💾 %d saved error(s)", len(saved))
	// Newest last; show the tail so the message stays readable.
	tail := saved
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
		fmt.Fprintf(&b, ", last %d:", len(tail))
	}
	b.WriteString("\n<pre>")
	for _, r := range tail {
		b.WriteString(tgui.Esc(truncate(r.String(), 300)))
		b.WriteByte('\n')
	}
	b.WriteString("</pre>")
	req.Answer = "Saved"
	return req.ReplyHTML(ctx, b.String())
}

func (s *Service) onToggle(ctx context.Context, req *router.Request, _ string) error {
	on, err := s.Toggle(ctx)
	if err != nil {
		req.Answer = "Toggle failed"
		return err
	}
	if on {
		req.Answer = "Alerts enabled"
	} else {
		req.Answer = "Alerts disabled"
	}
	return nil
}

func (s *Service) onDiag(ctx context.Context, req *router.Request, _ string) error {
	req.Answer = "Diagnostics"
	return req.ReplyHTML(ctx, s.Diagnostics())
}

func (s *Service) onShutdown(ctx context.Context, req *router.Request, _ string) error {
	if s.shutdown == nil {
		req.Answer = "Shutdown unavailable"
		return nil
	}
	req.Answer = "Shutting down"
	err := req.ReplyHTML(ctx, "⛔ Shutting down…")
	s.shutdown()
	return err
}

// Diagnostics renders process and loop state as HTML.
func (s *Service) Diagnostics() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var b strings.Builder
	b.WriteString("🩺 <b>Diagnostics</b>\n")
	fmt.Fprintf(&b, "uptime: <code>%s</code>\n", s.now().Sub(s.started).Truncate(time.Second))
	fmt.Fprintf(&b, "goroutines: <code>%d</code>\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "heap: <code>%.1f MiB</code> sys: <code>%.1f MiB</code>\n", mib(ms.HeapAlloc), mib(ms.Sys))
	if s.driver != "" {
		fmt.Fprintf(&b, "store: <code>%s</code>\n", tgui.Esc(s.driver))
	}

	s.mu.Lock()
	enabled, disabled, suppressed, n := s.enabled, s.disabled, s.suppressed, len(s.saved)
	s.mu.Unlock()
	switch {
	case disabled:
		b.WriteString("alerts: <code>off (config)</code>\n")
	case enabled:
		b.WriteString("alerts: <code>on</code>\n")
	default:
		b.WriteString("alerts: <code>off</code>\n")
	}
	fmt.Fprintf(&b, "errors saved: <code>%d</code> suppressed: <code>%d</code>\n", n, suppressed)

	if s.loop != nil {
		snap := s.loop.Snapshot()
		fmt.Fprintf(&b, "loop: <code>%s</code>", snap.State)
		if snap.Paused {
			b.WriteString(" (paused)")
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "next: <code>%s</code>\n", fmtTime(snap.NextAt))
		fmt.Fprintf(&b, "last post: <code>%s</code>\n", fmtTime(snap.LastPost))
		fmt.Fprintf(&b, "runs: <code>%d</code> failures: <code>%d</code> skips: <code>%d</code>", snap.Runs, snap.Failures, snap.Skips)
	}
	return b.String()
}

func mib(v uint64) float64 { return float64(v) / (1 << 20) }

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}
