package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a Go duration string. Empty means unset (0).
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr parses raw, falling back to def when it is unset or zero.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// HealthTimings are the resolved durations of the health section.
type HealthTimings struct {
	Interval         time.Duration
	Grace            time.Duration
	ProbeMinInterval time.Duration
}

// Timings resolves the health durations over def. The periodic check must
// run at least once per grace period, or a stall is noticed a whole
// interval late.
func (h HealthConfig) Timings(def HealthTimings) (HealthTimings, error) {
	t := def
	for _, f := range []struct {
		path, raw string
		dst       *time.Duration
	}{
		{"health.interval", h.Interval, &t.Interval},
		{"health.grace", h.Grace, &t.Grace},
		{"health.probe_min_interval", h.ProbeMinInterval, &t.ProbeMinInterval},
	} {
		d, err := DurationOr(f.path, f.raw, *f.dst)
		if err != nil {
			return HealthTimings{}, err
		}
		*f.dst = d
	}
	switch {
	case t.Interval < time.Second:
		return HealthTimings{}, fmt.Errorf("health.interval must be >= 1s, got %s", t.Interval)
	case t.Grace <= 0:
		return HealthTimings{}, fmt.Errorf("health.grace must be > 0")
	case t.Interval > t.Grace:
		return HealthTimings{}, fmt.Errorf("health.interval (%s) must not exceed health.grace (%s)", t.Interval, t.Grace)
	}
	return t, nil
}

// PublisherTimings are the resolved durations of the publisher section.
type PublisherTimings struct {
	RunTimeout    time.Duration
	FallbackDelay time.Duration
}

// Timings resolves the publisher durations over def.
func (p PublisherConfig) Timings(def PublisherTimings) (PublisherTimings, error) {
	run, err := DurationOr("publisher.run_timeout", p.RunTimeout, def.RunTimeout)
	if err != nil {
		return PublisherTimings{}, err
	}
	fb, err := DurationOr("publisher.fallback_delay", p.FallbackDelay, def.FallbackDelay)
	if err != nil {
		return PublisherTimings{}, err
	}
	if run < time.Second {
		return PublisherTimings{}, fmt.Errorf("publisher.run_timeout must be >= 1s, got %s", run)
	}
	return PublisherTimings{RunTimeout: run, FallbackDelay: fb}, nil
}
