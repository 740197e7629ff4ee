package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "quotebot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"x","message":"publish failed","run_id":"abc"}` + "\n")
	got := formatTelegramJSON(line)
	if !strings.HasPrefix(got, "[ERROR] publish failed") {
		t.Fatalf("unexpected head: %q", got)
	}
	if !strings.Contains(got, "- run_id=abc") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be omitted: %q", got)
	}

	raw := formatTelegramJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw = %q", raw)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens", String("k", "v"))
	l.With(Int("n", 1)).Error("still nothing")
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.Info("hello", String("component", "test"))
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello"`) || !strings.Contains(string(b), `"component":"test"`) {
		t.Fatalf("unexpected log contents: %s", b)
	}
}

type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *recordingAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *recordingAdapter) Stop(context.Context) error                     { return nil }
func (r *recordingAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}
func (r *recordingAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	ad := &recordingAdapter{}
	svc, _ := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "error", RatePerSec: 100},
	}, ad)
	defer svc.Close()
	svc.SetTelegramTarget(kit.ChatTarget{ChatID: 7})

	w := svc.tg
	_, _ = w.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"loud"}`))

	deadline := time.Now().Add(2 * time.Second)
	for {
		ad.mu.Lock()
		n := len(ad.sent)
		var first string
		if n > 0 {
			first = ad.sent[0]
		}
		ad.mu.Unlock()
		if n > 0 {
			if !strings.Contains(first, "loud") {
				t.Fatalf("first delivered = %q, want the error line", first)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("telegram sink never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApplySwitchesLiveLoggers(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	defer svc.Close()
	child := log.With(String("comp", "publisher"))

	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: second}})
	child.Info("dropped by level")
	child.Warn("after apply")

	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "after apply") || strings.Contains(string(b), "dropped by level") {
		t.Fatalf("second sink = %s", b)
	}
	if !strings.Contains(string(b), `"comp":"publisher"`) {
		t.Fatalf("derived fields lost: %s", b)
	}
}

func TestFormatTelegramJSONOrdersKeys(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"m","z":1,"a":"x","stack":"s"}`))
	want := "[WARN] m\n- a=x\n- z=1\n- stack=\ns"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
