package config

import (
	"reflect"
	"sort"
	"strings"

	logx "quotebot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (bot token, API key, force token)
// are reported only as "set/unset".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.AdminChat) != strings.TrimSpace(newCfg.Telegram.AdminChat) ||
		oldCfg.Telegram.Workers != newCfg.Telegram.Workers ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.admin_chat_set", strings.TrimSpace(newCfg.Telegram.AdminChat) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Publisher, newCfg.Publisher) {
		changed = append(changed, "publisher")
		skip := -1.0
		if p := newCfg.Publisher.SkipProbability; p != nil {
			skip = *p
		}
		attrs = append(attrs,
			logx.Bool("publisher.enabled", newCfg.Publisher.Enabled),
			logx.String("publisher.channel_id", strings.TrimSpace(newCfg.Publisher.ChannelID)),
			logx.String("publisher.timezone", strings.TrimSpace(newCfg.Publisher.Timezone)),
			logx.Float64("publisher.skip_probability", skip), // -1 = default
			logx.Int("publisher.band_count", len(newCfg.Publisher.Bands)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Health, newCfg.Health) {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", newCfg.Health.Enabled),
			logx.String("health.interval", strings.TrimSpace(newCfg.Health.Interval)),
			logx.String("health.grace", strings.TrimSpace(newCfg.Health.Grace)),
		)
	}

	// Generator (never log api key)
	og, ng := oldCfg.Generator, newCfg.Generator
	keyChanged := og.APIKey != ng.APIKey
	og.APIKey, ng.APIKey = "", ""
	if keyChanged || !reflect.DeepEqual(og, ng) {
		changed = append(changed, "generator")
		attrs = append(attrs,
			logx.String("generator.model", strings.TrimSpace(newCfg.Generator.Model)),
			logx.Bool("generator.api_key_changed", keyChanged),
		)
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.disabled", newCfg.Alerts.Disabled),
			logx.Int("alerts.rate_per_min", newCfg.Alerts.RatePerMin),
		)
	}

	// HTTP (never log force token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	tokenChanged := oh.ForceToken != nh.ForceToken
	oh.ForceToken, nh.ForceToken = "", ""
	if tokenChanged || oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.force_token_set", strings.TrimSpace(newCfg.HTTP.ForceToken) != ""),
		)
	}

	// Storage. Nil means the in-memory fallback.
	var oDriver, nDriver, oPath, nPath string
	if oldCfg.Storage != nil {
		oDriver, oPath = strings.TrimSpace(oldCfg.Storage.Driver), strings.TrimSpace(oldCfg.Storage.Path)
	}
	if newCfg.Storage != nil {
		nDriver, nPath = strings.TrimSpace(newCfg.Storage.Driver), strings.TrimSpace(newCfg.Storage.Path)
	}
	if oDriver != nDriver || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that cannot be applied live.
func RestartRequired(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		switch s {
		case "storage", "http", "generator":
			out = append(out, s)
		}
	}
	return out
}
