// Package commands holds the admin bot commands and the user submission
// handler.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"quotebot/internal/publisher"
	"quotebot/internal/transport/telegram/router"
	"quotebot/pkg/tgui"
)

// Loop is the part of the publication engine commands drive.
type Loop interface {
	PublishNow(ctx context.Context, channelID string) error
	ForcePost(ctx context.Context, channelID string) error
	SchedulePost(ctx context.Context, channelID string) error
	Pause()
	Snapshot() publisher.Snapshot
}

// Health is the probe side of the health monitor.
type Health interface {
	CheckHealth(ctx context.Context) bool
	Last() publisher.ProbeResult
}

type Deps struct {
	Loop        Loop
	Health      Health // nil when health checks are disabled
	Supervisors *router.SupervisorRegistry
	Now         func() time.Time

	// Channel and AcceptSubmissions read live config so reloads apply.
	Channel           func() string
	AcceptSubmissions func() bool
}

type Set struct {
	d       Deps
	started time.Time
}

func New(d Deps) *Set {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Channel == nil {
		d.Channel = func() string { return "" }
	}
	if d.AcceptSubmissions == nil {
		d.AcceptSubmissions = func() bool { return false }
	}
	return &Set{d: d, started: d.Now()}
}

var errNoChannel = errors.New("no channel configured")

func (s *Set) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "send",
			Description: "publish a quote now without touching the schedule",
			Usage:       "/send",
			Access:      router.AccessOwnerOnly,
			Timeout:     3 * time.Minute,
			Handle:      s.cmdSend,
		},
		{
			Name:        "force",
			Description: "publish now and restart the schedule",
			Usage:       "/force",
			Access:      router.AccessOwnerOnly,
			Timeout:     3 * time.Minute,
			Handle:      s.cmdForce,
		},
		{
			Name:        "status",
			Aliases:     []string{"st"},
			Description: "publication loop state",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      s.cmdStatus,
		},
		{
			Name:        "health",
			Description: "run a health check",
			Usage:       "/health",
			Access:      router.AccessOwnerOnly,
			Timeout:     time.Minute,
			Handle:      s.cmdHealth,
		},
		{
			Name:        "pause",
			Description: "cancel the schedule until /resume",
			Usage:       "/pause",
			Access:      router.AccessOwnerOnly,
			Handle:      s.cmdPause,
		},
		{
			Name:        "resume",
			Description: "schedule the next post",
			Usage:       "/resume",
			Access:      router.AccessOwnerOnly,
			Handle:      s.cmdResume,
		},
	}
}

func (s *Set) channel() (string, error) {
	ch := strings.TrimSpace(s.d.Channel())
	if ch == "" {
		return "", errNoChannel
	}
	return ch, nil
}

func (s *Set) cmdSend(ctx context.Context, req *router.Request) error {
	ch, err := s.channel()
	if err != nil {
		return req.Reply(ctx, err.Error(), nil)
	}
	if err := s.d.Loop.PublishNow(ctx, ch); err != nil {
		_ = req.ReplyHTML(ctx, "❌ publish failed: "+tgui.Esc(err.Error()))
		return err
	}
	return req.Reply(ctx, "✅ published", nil)
}

func (s *Set) cmdForce(ctx context.Context, req *router.Request) error {
	ch, err := s.channel()
	if err != nil {
		return req.Reply(ctx, err.Error(), nil)
	}
	if err := s.d.Loop.ForcePost(ctx, ch); err != nil {
		_ = req.ReplyHTML(ctx, "❌ forced post failed: "+tgui.Esc(err.Error()))
		return err
	}
	msg := "✅ forced post published"
	if next := s.d.Loop.Snapshot().NextAt; !next.IsZero() {
		msg += "; next at " + next.Format("15:04:05")
	}
	return req.Reply(ctx, msg, nil)
}

func (s *Set) cmdPause(ctx context.Context, req *router.Request) error {
	s.d.Loop.Pause()
	return req.Reply(ctx, "⏸ schedule cancelled; /resume to continue", nil)
}

func (s *Set) cmdResume(ctx context.Context, req *router.Request) error {
	ch, err := s.channel()
	if err != nil {
		return req.Reply(ctx, err.Error(), nil)
	}
	// The schedule must outlive this request.
	if err := s.d.Loop.SchedulePost(context.WithoutCancel(ctx), ch); err != nil {
		return req.Reply(ctx, "❌ "+err.Error(), nil)
	}
	return req.Reply(ctx, "▶️ next post at "+fmtTime(s.d.Loop.Snapshot().NextAt), nil)
}

func (s *Set) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.ReplyHTML(ctx, s.statusText())
}

func (s *Set) statusText() string {
	snap := s.d.Loop.Snapshot()
	now := s.d.Now()

	var b strings.Builder
	b.WriteString("📮 " + tgui.B("Publication loop") + "\n")
	state := snap.State.String()
	if snap.Paused {
		state += " (paused)"
	}
	b.WriteString("state: " + tgui.Code(state) + "\n")
	b.WriteString("channel: " + tgui.Code(orDash(snap.ChannelID)) + "\n")
	if !snap.NextAt.IsZero() {
		fmt.Fprintf(&b, "next: <code>%s</code> (in %s)\n", fmtTime(snap.NextAt), durRel(snap.NextAt.Sub(now)))
	} else {
		b.WriteString("next: <code>-</code>\n")
	}
	fmt.Fprintf(&b, "last post: <code>%s</code>\n", fmtTime(snap.LastPost))
	fmt.Fprintf(&b, "last run: <code>%s</code>\n", fmtTime(snap.LastRunAt))
	fmt.Fprintf(&b, "runs: %d, failures: %d, skips: %d\n", snap.Runs, snap.Failures, snap.Skips)
	if snap.LastErr != "" {
		b.WriteString("last error: " + tgui.Code(snap.LastErr) + "\n")
	}
	fmt.Fprintf(&b, "uptime: %s", durRel(now.Sub(s.started)))
	return b.String()
}

func (s *Set) cmdHealth(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	b.WriteString("🏥 <b>Health</b>\n")
	if s.d.Health == nil {
		b.WriteString("checks: disabled\n")
	} else {
		healthy := s.d.Health.CheckHealth(ctx)
		last := s.d.Health.Last()
		if healthy {
			b.WriteString("loop: ✅ healthy\n")
		} else {
			fmt.Fprintf(&b, "loop: ⚠️ %s (restart attempted)\n", tgui.Esc(last.Reason))
		}
	}

	sups := s.d.Supervisors.Snapshot()
	if len(sups) > 0 {
		b.WriteString("\n<b>Goroutines</b>\n")
		names := make([]string, 0, len(sups))
		for n := range sups {
			names = append(names, n)
		}
		slices.Sort(names)
		for _, n := range names {
			for _, st := range sups[n].Snapshot() {
				fmt.Fprintf(&b, "• %s/%s active=%d restarts=%d panics=%d", tgui.Esc(n), tgui.Esc(st.Name), st.Active, st.Restarts, st.Panics)
				if st.LastErr != "" {
					fmt.Fprintf(&b, " err=%s", tgui.Esc(st.LastErr))
				}
				b.WriteByte('\n')
			}
		}
	}
	return req.ReplyHTML(ctx, strings.TrimRight(b.String(), "\n"))
}
