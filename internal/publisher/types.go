package publisher

import (
	"context"
	"errors"
	"time"

	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
)

var (
	// ErrConfiguration means the destination is missing or malformed.
	ErrConfiguration = errors.New("publisher: invalid configuration")
	// ErrGeneration wraps content generator failures and empty content.
	ErrGeneration = errors.New("publisher: content generation failed")
	// ErrDelivery wraps sender failures.
	ErrDelivery = errors.New("publisher: delivery failed")
	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("publisher: engine closed")
)

// Content is one generated post. Topic is shown to reviewers only.
type Content struct {
	Message string
	Topic   string
}

type Generator interface {
	Generate(ctx context.Context) (Content, error)
}

// Sender delivers a message to a chat given as "-100..." or "@name".
type Sender interface {
	Send(ctx context.Context, chatID, text string, opt *kit.SendOptions) error
}

// Store is the slice of storage the loop needs.
type Store interface {
	ReadSchedule(ctx context.Context) (storage.ScheduleRecord, bool, error)
	UpsertSchedule(ctx context.Context, rec storage.ScheduleRecord) error
}

// Alerter receives failures that need operator attention.
type Alerter interface {
	Alert(ctx context.Context, module string, err error)
}

type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the engine for status output.
type Snapshot struct {
	State     State
	ChannelID string
	NextAt    time.Time // zero when nothing is armed
	LastRunAt time.Time // last completed run, posted or skipped
	LastPost  time.Time // last successful publication (this process)
	LastErr   string
	LastRunID string
	Paused    bool // cancelled by an operator; health recovery leaves it alone
	Runs      uint64
	Failures  uint64
	Skips     uint64
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
