package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "quotebot/internal/transport"
)

const (
	telegramQueueLen = 256
	telegramMaxLen   = 3500
)

type telegramLine struct {
	to   kit.ChatTarget
	text string
}

// telegramSink is a zerolog LevelWriter that forwards selected events to
// the admin chat. Writes never block: over-rate or over-queue lines are
// dropped.
type telegramSink struct {
	sender kit.Adapter
	queue  chan telegramLine

	mu       sync.Mutex
	target   kit.ChatTarget
	limiter  *rate.Limiter
	minLevel zerolog.Level
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTelegramSink(sender kit.Adapter, threadID int) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramLine, telegramQueueLen),
		target:   kit.ChatTarget{ThreadID: threadID},
		minLevel: zerolog.WarnLevel,
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.target.ThreadID = cfg.ThreadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) setTarget(to kit.ChatTarget) {
	t.mu.Lock()
	if to.ThreadID == 0 {
		to.ThreadID = t.target.ThreadID
	}
	t.target = to
	t.mu.Unlock()
}

// start launches the delivery worker once.
func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-t.queue:
			if t.sender != nil {
				_, _ = t.sender.SendText(ctx, line.to, line.text, &kit.SendOptions{DisablePreview: true})
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(zerolog.InfoLevel, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, lim, minLevel := t.target, t.limiter, t.minLevel
	t.mu.Unlock()

	if t.sender == nil || to.IsZero() || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case t.queue <- telegramLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramJSON turns one zerolog JSON line into a short plain-text
// message: "[LEVEL] message" followed by "- key=value" lines in key order,
// with the stack last. Non-JSON input is passed through trimmed.
func formatTelegramJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), telegramMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case "time", "level", "message", "stack":
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), 600))
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n")
		b.WriteString(clip(fmt.Sprint(st), 900))
	}
	return clip(b.String(), telegramMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
