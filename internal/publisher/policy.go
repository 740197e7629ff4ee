package publisher

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimezone is the zone the time-of-day bands are evaluated in.
const DefaultTimezone = "Asia/Almaty"

const minutesPerDay = 24 * 60

// Window is a delay range in minutes.
type Window struct {
	MinMinutes int
	MaxMinutes int
}

// Normalize clamps negative bounds to zero and orders min <= max.
func (w Window) Normalize() Window {
	w.MinMinutes = max(0, w.MinMinutes)
	w.MaxMinutes = max(0, w.MaxMinutes)
	if w.MinMinutes > w.MaxMinutes {
		w.MinMinutes, w.MaxMinutes = w.MaxMinutes, w.MinMinutes
	}
	return w
}

func (w Window) Min() time.Duration { return time.Duration(w.MinMinutes) * time.Minute }

func (w Window) String() string { return fmt.Sprintf("%d..%dm", w.MinMinutes, w.MaxMinutes) }

// Band maps the local minute-of-day range [From, To) to a Window.
// From > To wraps across midnight.
type Band struct {
	From   int // minute of day, 0..1439
	To     int // minute of day, 1..1440
	Window Window
}

func (b Band) contains(minute int) bool {
	if b.From < b.To {
		return minute >= b.From && minute < b.To
	}
	return minute >= b.From || minute < b.To
}

// ParseBand builds a band from "HH:MM" bounds. "24:00" is accepted as an end.
func ParseBand(from, to string, minMinutes, maxMinutes int) (Band, error) {
	f, err := parseClock(from, false)
	if err != nil {
		return Band{}, err
	}
	t, err := parseClock(to, true)
	if err != nil {
		return Band{}, err
	}
	if f == t {
		return Band{}, fmt.Errorf("band %s-%s is empty", from, to)
	}
	return Band{From: f, To: t, Window: Window{MinMinutes: minMinutes, MaxMinutes: maxMinutes}.Normalize()}, nil
}

func parseClock(s string, allowEnd bool) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && (m != 0 || !allowEnd) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// DefaultBands are the stock posting rhythm: quicker during the working
// day, slower in the evening peak.
func DefaultBands() []Band {
	return []Band{
		{From: 8 * 60, To: 16 * 60, Window: Window{5, 45}},
		{From: 16 * 60, To: 18 * 60, Window: Window{20, 90}},
		{From: 18 * 60, To: 23 * 60, Window: Window{45, 120}},
	}
}

// DefaultWindow applies to minutes no band covers.
var DefaultWindow = Window{MinMinutes: 5, MaxMinutes: 45}

// TimeOfDayPolicy maps an instant to the delay window for its local time.
// It is immutable once built.
type TimeOfDayPolicy struct {
	loc   *time.Location
	bands []Band
	def   Window
}

// NewTimeOfDayPolicy validates the bands (no overlaps) and loads the zone.
// An empty tz means DefaultTimezone; nil bands mean DefaultBands.
func NewTimeOfDayPolicy(tz string, bands []Band, def Window) (*TimeOfDayPolicy, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	if bands == nil {
		bands = DefaultBands()
	}

	var owner [minutesPerDay]int // band index + 1
	for i, b := range bands {
		if b.From < 0 || b.From >= minutesPerDay || b.To <= 0 || b.To > minutesPerDay {
			return nil, fmt.Errorf("band %d: bounds out of range", i)
		}
		for m := 0; m < minutesPerDay; m++ {
			if !b.contains(m) {
				continue
			}
			if owner[m] != 0 {
				return nil, fmt.Errorf("band %d overlaps band %d at %02d:%02d", i, owner[m]-1, m/60, m%60)
			}
			owner[m] = i + 1
		}
	}

	out := make([]Band, len(bands))
	for i, b := range bands {
		b.Window = b.Window.Normalize()
		out[i] = b
	}
	return &TimeOfDayPolicy{loc: loc, bands: out, def: def.Normalize()}, nil
}

// MustDefaultPolicy is the stock policy; it panics only if the zone
// database is missing.
func MustDefaultPolicy() *TimeOfDayPolicy {
	p, err := NewTimeOfDayPolicy(DefaultTimezone, nil, DefaultWindow)
	if err != nil {
		panic(err)
	}
	return p
}

// IntervalFor returns the window for t's local minute-of-day.
func (p *TimeOfDayPolicy) IntervalFor(t time.Time) Window {
	if p == nil {
		return DefaultWindow
	}
	local := t.In(p.loc)
	minute := local.Hour()*60 + local.Minute()
	for _, b := range p.bands {
		if b.contains(minute) {
			return b.Window
		}
	}
	return p.def
}

func (p *TimeOfDayPolicy) Location() *time.Location {
	if p == nil {
		return time.UTC
	}
	return p.loc
}
