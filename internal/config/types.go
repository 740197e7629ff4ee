package config

// Config is the root of the bot configuration file (JSON or YAML).
//
// String values may reference environment variables as ${NAME}; they are
// expanded before decoding so secrets can stay out of the file.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Publisher PublisherConfig `json:"publisher"`
	Health    HealthConfig    `json:"health"`
	Generator GeneratorConfig `json:"generator"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AdminChat receives alerts and the Telegram log sink ("-100..." or "@name").
	AdminChat string `json:"admin_chat"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Workers is the number of update dispatch workers (default 2).
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PublisherConfig controls the channel publication loop.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Asia/Almaty"
//   - skip_probability: 0.10 (set 0 explicitly to never skip)
//   - bands: 08:00-16:00 5..45, 16:00-18:00 20..90, 18:00-23:00 45..120
//   - default_window: 5..45
//   - run_timeout: "2m"
//   - fallback_delay: "10m"
type PublisherConfig struct {
	Enabled   bool   `json:"enabled"`
	ChannelID string `json:"channel_id"`
	Timezone  string `json:"timezone,omitempty"`

	SkipProbability *float64      `json:"skip_probability,omitempty"`
	Bands           []BandConfig  `json:"bands,omitempty"`
	DefaultWindow   *WindowConfig `json:"default_window,omitempty"`

	RunTimeout    string `json:"run_timeout,omitempty"`
	FallbackDelay string `json:"fallback_delay,omitempty"`

	// PostOnStart publishes once immediately at startup (bypassing skip).
	PostOnStart bool `json:"post_on_start,omitempty"`
	// ReviewChatID receives a copy of every post with its topic.
	ReviewChatID string `json:"review_chat_id,omitempty"`
	// AcceptSubmissions forwards private user messages to the channel.
	AcceptSubmissions bool `json:"accept_submissions,omitempty"`
}

// BandConfig maps a local time range [from, to) to a delay window in minutes.
// Ranges may wrap midnight ("22:00"-"02:00").
type BandConfig struct {
	From       string `json:"from"`
	To         string `json:"to"`
	MinMinutes int    `json:"min_minutes"`
	MaxMinutes int    `json:"max_minutes"`
}

type WindowConfig struct {
	MinMinutes int `json:"min_minutes"`
	MaxMinutes int `json:"max_minutes"`
}

// HealthConfig controls the liveness watchdog of the publication loop.
type HealthConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between periodic checks (default "5m").
	Interval string `json:"interval,omitempty"`
	// Grace is the tolerated lateness (default "10m").
	Grace string `json:"grace,omitempty"`
	// ProbeMinInterval throttles real checks behind the HTTP probe (default "15m").
	ProbeMinInterval string `json:"probe_min_interval,omitempty"`
	// Watchdog pings systemd WATCHDOG=1 after each healthy periodic check.
	Watchdog bool `json:"watchdog,omitempty"`
}

// GeneratorConfig configures the Gemini content generator.
type GeneratorConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model,omitempty"`    // default "gemini-2.0-flash"
	BaseURL string `json:"base_url,omitempty"` // default Google endpoint

	// PromptFile and SystemFile are re-read on every generation so they can
	// be edited without a restart. Prompt is used when PromptFile is empty.
	PromptFile string `json:"prompt_file,omitempty"`
	SystemFile string `json:"system_file,omitempty"`
	Prompt     string `json:"prompt,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`

	Timeout  string `json:"timeout,omitempty"` // default "60s"
	RetryMax int    `json:"retry_max,omitempty"`
}

// AlertsConfig controls admin alerts raised by the diagnostics service.
type AlertsConfig struct {
	Disabled bool `json:"disabled,omitempty"`
	// RatePerMin caps alert messages per minute (default 6).
	RatePerMin int `json:"rate_per_min,omitempty"`
	// SavedMax bounds the saved error list (default 100).
	SavedMax int `json:"saved_max,omitempty"`
}

// HTTPConfig controls the probe/trigger HTTP server.
//
// Security note: /force publishes immediately. Set force_token when the
// server is reachable from outside localhost.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default ":8080"
	ForceToken string `json:"force_token,omitempty"`
	Metrics    bool   `json:"metrics,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ (token-protected when set).
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/quotebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
