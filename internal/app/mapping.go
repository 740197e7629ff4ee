package app

import (
	"fmt"
	"strings"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/generator"
	"quotebot/internal/httpapi"
	"quotebot/internal/publisher"
	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// adminTarget parses telegram.admin_chat; empty means no admin chat.
func adminTarget(cfg *config.Config) (kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.AdminChat)
	if raw == "" {
		return kit.ChatTarget{}, nil
	}
	t, err := kit.ParseChatTarget(raw)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.admin_chat: %w", err)
	}
	t.ThreadID = cfg.Logging.Telegram.ThreadID
	return t, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file", "bolt", "bbolt":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapPolicy builds the time-of-day policy and skip probability.
func mapPolicy(cfg *config.Config) (*publisher.TimeOfDayPolicy, float64, error) {
	pc := cfg.Publisher

	var bands []publisher.Band
	if pc.Bands != nil {
		bands = make([]publisher.Band, 0, len(pc.Bands))
		for i, b := range pc.Bands {
			band, err := publisher.ParseBand(b.From, b.To, b.MinMinutes, b.MaxMinutes)
			if err != nil {
				return nil, 0, fmt.Errorf("publisher.bands[%d]: %w", i, err)
			}
			bands = append(bands, band)
		}
	}
	def := publisher.DefaultWindow
	if pc.DefaultWindow != nil {
		def = publisher.Window{MinMinutes: pc.DefaultWindow.MinMinutes, MaxMinutes: pc.DefaultWindow.MaxMinutes}
	}
	pol, err := publisher.NewTimeOfDayPolicy(pc.Timezone, bands, def)
	if err != nil {
		return nil, 0, fmt.Errorf("publisher: %w", err)
	}

	skip := publisher.DefaultSkipProbability
	if pc.SkipProbability != nil {
		skip = *pc.SkipProbability
	}
	return pol, skip, nil
}

func mapPublisherTimings(cfg *config.Config) (config.PublisherTimings, error) {
	return cfg.Publisher.Timings(config.PublisherTimings{
		RunTimeout:    publisher.DefaultRunTimeout,
		FallbackDelay: publisher.DefaultFallbackDelay,
	})
}

func mapHealth(cfg *config.Config) (config.HealthTimings, error) {
	return cfg.Health.Timings(config.HealthTimings{
		Interval:         publisher.DefaultHealthInterval,
		Grace:            publisher.DefaultHealthGrace,
		ProbeMinInterval: publisher.DefaultProbeInterval,
	})
}

func mapGenerator(cfg *config.Config) (generator.Config, error) {
	g := cfg.Generator
	timeout, err := config.DurationOr("generator.timeout", g.Timeout, generator.DefaultTimeout)
	if err != nil {
		return generator.Config{}, err
	}
	return generator.Config{
		APIKey:      g.APIKey,
		Model:       g.Model,
		BaseURL:     g.BaseURL,
		PromptFile:  g.PromptFile,
		SystemFile:  g.SystemFile,
		Prompt:      g.Prompt,
		Temperature: g.Temperature,
		TopP:        g.TopP,
		TopK:        g.TopK,
		Timeout:     timeout,
		RetryMax:    g.RetryMax,
	}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.DurationOr("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// /force waits for generation and delivery.
	write, err := config.DurationOr("http.write_timeout", h.WriteTimeout, 3*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.DurationOr("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         h.Addr,
		Token:        h.ForceToken,
		Metrics:      h.Metrics,
		Pprof:        h.Pprof,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// validate runs every mapping so a bad reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := adminTarget(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapPolicy(cfg); err != nil {
		return err
	}
	if _, err := mapPublisherTimings(cfg); err != nil {
		return err
	}
	if _, err := mapHealth(cfg); err != nil {
		return err
	}
	if _, err := mapGenerator(cfg); err != nil {
		return err
	}
	if _, err := mapHTTP(cfg); err != nil {
		return err
	}
	if ch := strings.TrimSpace(cfg.Publisher.ChannelID); ch != "" {
		if err := publisher.ValidateChannelID(ch); err != nil {
			return fmt.Errorf("publisher.channel_id: %w", err)
		}
	}
	return nil
}
