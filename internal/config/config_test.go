package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: ${QUOTEBOT_TEST_TOKEN}
  owner_user_ids: [1001]
  admin_chat: "-100200"
  poll_timeout: 10s
logging:
  level: info
  console: true
  file: { enabled: false, path: "" }
  telegram: { enabled: false, thread_id: 0, min_level: warn, rate_per_sec: 1 }
publisher:
  enabled: true
  channel_id: "@quotes"
  timezone: Asia/Almaty
  skip_probability: 0.1
  bands:
    - { from: "08:00", to: "16:00", min_minutes: 5, max_minutes: 45 }
health:
  enabled: true
  interval: 5m
  grace: 10m
generator:
  api_key: ${QUOTEBOT_TEST_KEY}
`

func TestParseYAMLWithEnv(t *testing.T) {
	t.Setenv("QUOTEBOT_TEST_TOKEN", "123:abc")
	t.Setenv("QUOTEBOT_TEST_KEY", "gemini-secret")

	cfg, err := ParseBytes("bot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Generator.APIKey != "gemini-secret" {
		t.Fatalf("api key = %q", cfg.Generator.APIKey)
	}
	if cfg.Publisher.ChannelID != "@quotes" || len(cfg.Publisher.Bands) != 1 {
		t.Fatalf("publisher = %+v", cfg.Publisher)
	}
	if cfg.Publisher.SkipProbability == nil || *cfg.Publisher.SkipProbability != 0.1 {
		t.Fatalf("skip_probability = %v", cfg.Publisher.SkipProbability)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("bot.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("bot.json", []byte(`{"telegram":{"token":"x"}} {}`))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	bad := -0.5
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing token", cfg: Config{}, want: "telegram.token"},
		{name: "missing channel", cfg: Config{Telegram: TelegramConfig{Token: "t"}, Publisher: PublisherConfig{Enabled: true}}, want: "channel_id"},
		{name: "bad probability", cfg: Config{Telegram: TelegramConfig{Token: "t"}, Publisher: PublisherConfig{SkipProbability: &bad}}, want: "skip_probability"},
		{name: "bad duration", cfg: Config{Telegram: TelegramConfig{Token: "t"}, Health: HealthConfig{Grace: "soon"}}, want: "health.grace"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Generator: GeneratorConfig{APIKey: "a"}, HTTP: HTTPConfig{ForceToken: "x"}}
	newCfg := &Config{Generator: GeneratorConfig{APIKey: "b"}, HTTP: HTTPConfig{ForceToken: "y"}, Health: HealthConfig{Enabled: true}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"generator", "health", "http"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed = %v, missing %s", changed, want)
		}
	}
	if got := RestartRequired(changed); !slices.Equal(got, []string{"generator", "http"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"telegram":{"token":"a"}}`)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return cfg.Validate() })
	ch := m.Updates()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	write(`{"telegram":{"token":"b"}}`)
	select {
	case cfg := <-ch:
		if cfg.Telegram.Token != "b" {
			t.Fatalf("published token = %q", cfg.Telegram.Token)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after change")
	}
	if m.Get().Telegram.Token != "b" {
		t.Fatal("Get() not updated after publish")
	}
}

func TestParseYAMLRejectsNonStringKeys(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("bot.yml", []byte("telegram:\n  token: x\npublisher:\n  1: x\n"))
	if err == nil || !strings.Contains(err.Error(), `"publisher"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestHealthTimings(t *testing.T) {
	t.Parallel()
	def := HealthTimings{Interval: 5 * time.Minute, Grace: 10 * time.Minute, ProbeMinInterval: 15 * time.Minute}
	cases := []struct {
		name string
		cfg  HealthConfig
		want HealthTimings
		err  string
	}{
		{name: "defaults", want: def},
		{name: "override", cfg: HealthConfig{Interval: "1m", Grace: "2m"}, want: HealthTimings{Interval: time.Minute, Grace: 2 * time.Minute, ProbeMinInterval: 15 * time.Minute}},
		{name: "sub-second interval", cfg: HealthConfig{Interval: "500ms"}, err: ">= 1s"},
		{name: "interval beyond grace", cfg: HealthConfig{Interval: "20m"}, err: "must not exceed health.grace"},
		{name: "negative", cfg: HealthConfig{Grace: "-1m"}, err: "health.grace"},
	}
	for _, tc := range cases {
		got, err := tc.cfg.Timings(def)
		if tc.err != "" {
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("%s: err = %v, want %q", tc.name, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %+v, %v", tc.name, got, err)
		}
	}
}

func TestPublisherTimings(t *testing.T) {
	t.Parallel()
	def := PublisherTimings{RunTimeout: 2 * time.Minute, FallbackDelay: 10 * time.Minute}
	if got, err := (PublisherConfig{}).Timings(def); err != nil || got != def {
		t.Fatalf("defaults = %+v, %v", got, err)
	}
	if _, err := (PublisherConfig{RunTimeout: "10ms"}).Timings(def); err == nil {
		t.Fatal("sub-second run timeout accepted")
	}
}

func TestUpdatesKeepOnlyNewest(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.json")
	m := NewManager(path)
	for _, tok := range []string{"a", "b", "c"} {
		if err := os.WriteFile(path, []byte(`{"telegram":{"token":"`+tok+`"}}`), 0o600); err != nil {
			t.Fatal(err)
		}
		m.reload(context.Background())
	}
	cfg := <-m.Updates()
	if cfg.Telegram.Token != "c" {
		t.Fatalf("token = %q, want newest", cfg.Telegram.Token)
	}
	select {
	case extra := <-m.Updates():
		t.Fatalf("stale update queued: %+v", extra.Telegram)
	default:
	}

	m.reload(context.Background()) // same bytes
	select {
	case <-m.Updates():
		t.Fatal("unchanged file published")
	default:
	}
}
