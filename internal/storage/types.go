package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// singletonKey is the fixed key of the schedule record and the admin settings.
// Both are singletons; every write is an upsert on this key.
const singletonKey = "singleton"

// Config configures storage.
//
// Driver values:
//   - "file":   JSON snapshot + audit jsonl next to Path
//   - "sqlite": SQLite database file (modernc, pure Go)
//   - "bolt":   bbolt database file
//   - "memory": process-local, lost on restart
//
// If Driver is empty or "none", the memory driver is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleRecord is the durable publication schedule.
// Timestamps are milliseconds since the Unix epoch; 0 means "unset".
type ScheduleRecord struct {
	LastPostAt int64 `json:"last_post_at"`
	NextPostAt int64 `json:"next_post_at"`
}

// AdminSettings holds operator toggles that survive restarts.
type AdminSettings struct {
	AlertsEnabled bool `json:"alerts_enabled"`
}

// DefaultAdminSettings is what a fresh store reports.
func DefaultAdminSettings() AdminSettings { return AdminSettings{AlertsEnabled: true} }

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"err,omitempty"`
	TookMS        int64     `json:"took_ms,omitempty"`
}

// Store is the persistence API used by the publisher and the admin surface.
//
// ReadSchedule returns ok=false when no record was ever written.
type Store interface {
	ReadSchedule(ctx context.Context) (rec ScheduleRecord, ok bool, err error)
	UpsertSchedule(ctx context.Context, rec ScheduleRecord) error

	GetSettings(ctx context.Context) (AdminSettings, error)
	PutSettings(ctx context.Context, s AdminSettings) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	// Driver names the backend for diagnostics.
	Driver() string
	Close() error
}
