package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the parts of a config that can be verified without
// building runtime components. Domain checks (bands, timezone) are done by
// the components themselves when the app validates a reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Publisher.Enabled && strings.TrimSpace(c.Publisher.ChannelID) == "" {
		errs = append(errs, errors.New("publisher.channel_id is required when publisher.enabled"))
	}
	if p := c.Publisher.SkipProbability; p != nil && (*p < 0 || *p > 1) {
		errs = append(errs, fmt.Errorf("publisher.skip_probability must be within [0,1], got %v", *p))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"publisher.run_timeout", c.Publisher.RunTimeout},
		{"publisher.fallback_delay", c.Publisher.FallbackDelay},
		{"health.interval", c.Health.Interval},
		{"health.grace", c.Health.Grace},
		{"health.probe_min_interval", c.Health.ProbeMinInterval},
		{"generator.timeout", c.Generator.Timeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := parseDuration(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
