package app

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/publisher"
	logx "quotebot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram:  config.TelegramConfig{Token: "t", AdminChat: "-1009"},
		Publisher: config.PublisherConfig{Enabled: true, ChannelID: "@quotes"},
		Generator: config.GeneratorConfig{APIKey: "k", Prompt: "p"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"ok", func(*config.Config) {}, ""},
		{"bad admin chat", func(c *config.Config) { c.Telegram.AdminChat = "not a chat" }, "admin_chat"},
		{"bad timezone", func(c *config.Config) { c.Publisher.Timezone = "Mars/Olympus" }, "timezone"},
		{"overlapping bands", func(c *config.Config) {
			c.Publisher.Bands = []config.BandConfig{
				{From: "08:00", To: "12:00", MinMinutes: 5, MaxMinutes: 10},
				{From: "11:00", To: "13:00", MinMinutes: 5, MaxMinutes: 10},
			}
		}, "overlaps"},
		{"bad band clock", func(c *config.Config) {
			c.Publisher.Bands = []config.BandConfig{{From: "8", To: "12:00"}}
		}, "bands[0]"},
		{"sqlite without path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"unknown driver", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis"} }, "unknown storage.driver"},
		{"bad channel", func(c *config.Config) { c.Publisher.ChannelID = "quotes" }, "channel_id"},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		tc.mutate(cfg)
		err := validate(cfg)
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestMapPolicy(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	zero := 0.0
	cfg.Publisher.SkipProbability = &zero
	cfg.Publisher.Timezone = "UTC"
	cfg.Publisher.Bands = []config.BandConfig{{From: "22:00", To: "02:00", MinMinutes: 60, MaxMinutes: 30}}
	cfg.Publisher.DefaultWindow = &config.WindowConfig{MinMinutes: 10, MaxMinutes: 20}

	pol, skip, err := mapPolicy(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if skip != 0 {
		t.Fatalf("skip = %v", skip)
	}
	night := pol.IntervalFor(time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC))
	if night.MinMinutes != 30 || night.MaxMinutes != 60 {
		t.Fatalf("wrapping band window = %v", night)
	}
	day := pol.IntervalFor(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	if day.MinMinutes != 10 || day.MaxMinutes != 20 {
		t.Fatalf("default window = %v", day)
	}

	_, skip, _ = mapPolicy(baseConfig())
	if skip != publisher.DefaultSkipProbability {
		t.Fatalf("default skip = %v", skip)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if sc, _ := mapStorageConfig(cfg); sc.Driver != "memory" {
		t.Fatalf("nil storage = %+v", sc)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "q.db", BusyTimeout: "3s"}
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("sqlite = %+v, %v", sc, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "bolt", Path: "q.bolt"}
	if sc, err := mapStorageConfig(cfg); err != nil || sc.Driver != "bolt" {
		t.Fatalf("bolt = %+v, %v", sc, err)
	}
}

func TestMapHTTPDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.HTTP = config.HTTPConfig{Enabled: true, ForceToken: "x", Metrics: true}
	hc, err := mapHTTP(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if hc.Token != "x" || !hc.Metrics || hc.WriteTimeout != 3*time.Minute {
		t.Fatalf("http = %+v", hc)
	}
}

func TestStepperBoundsSlowSteps(t *testing.T) {
	t.Parallel()
	step := stepper(context.Background(), logx.Nop())

	var ran atomic.Int32
	start := time.Now()
	step("slow", 20*time.Millisecond, func(c context.Context) error {
		ran.Add(1)
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if took := time.Since(start); took > 150*time.Millisecond {
		t.Fatalf("slow step not bounded: %v", took)
	}
	step("panics", time.Second, func(context.Context) error { panic("boom") })
	step("fails", time.Second, func(context.Context) error { ran.Add(1); return errors.New("x") })
	if ran.Load() != 2 {
		t.Fatalf("ran = %d", ran.Load())
	}
}

func TestApplyChannel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		prev, next config.PublisherConfig
		wantState  publisher.State
	}{
		{"disable", config.PublisherConfig{Enabled: true, ChannelID: "@a"}, config.PublisherConfig{ChannelID: "@a"}, publisher.StateCancelled},
		{"move", config.PublisherConfig{Enabled: true, ChannelID: "@a"}, config.PublisherConfig{Enabled: true, ChannelID: "@b"}, publisher.StateScheduled},
	}
	for _, tc := range cases {
		eng := publisher.NewEngine(publisher.EngineOptions{Log: logx.Nop()})
		a := &App{engine: eng, log: logx.Nop()}
		if err := eng.SchedulePost(context.Background(), "@a"); err != nil {
			t.Fatal(err)
		}
		a.applyChannel(context.Background(), &tc.prev, &tc.next)
		snap := eng.Snapshot()
		if snap.State != tc.wantState {
			t.Fatalf("%s: state = %v", tc.name, snap.State)
		}
		if tc.name == "move" && snap.ChannelID != "@b" {
			t.Fatalf("%s: channel = %q", tc.name, snap.ChannelID)
		}
		_ = eng.Close(context.Background())
	}
}

func TestDisabledPublisherStaysDownPastGrace(t *testing.T) {
	t.Parallel()
	eng := publisher.NewEngine(publisher.EngineOptions{Log: logx.Nop()})
	defer func() { _ = eng.Close(context.Background()) }()
	a := &App{engine: eng, log: logx.Nop()}
	if err := eng.SchedulePost(context.Background(), "@a"); err != nil {
		t.Fatal(err)
	}
	a.applyChannel(context.Background(),
		&config.PublisherConfig{Enabled: true, ChannelID: "@a"},
		&config.PublisherConfig{ChannelID: "@a"})

	later := time.Now().Add(time.Hour)
	h := publisher.NewHealthMonitor(publisher.HealthOptions{
		Engine: eng,
		Grace:  10 * time.Minute,
		Log:    logx.Nop(),
		Now:    func() time.Time { return later },
	})
	if !h.CheckHealth(context.Background()) {
		t.Fatalf("disabled publisher reported unhealthy: %+v", h.Last())
	}
	if snap := eng.Snapshot(); snap.State != publisher.StateCancelled || !snap.NextAt.IsZero() || snap.ChannelID != "" {
		t.Fatalf("disabled publisher re-armed: %+v", snap)
	}
}
