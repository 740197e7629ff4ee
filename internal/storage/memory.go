package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Used by tests and as the
// fallback when no durable driver is configured.
type MemoryStore struct {
	mu       sync.Mutex
	rec      ScheduleRecord
	hasRec   bool
	settings AdminSettings
	audit    []AuditEntry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{settings: DefaultAdminSettings()}
}

func (s *MemoryStore) ReadSchedule(ctx context.Context) (ScheduleRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.hasRec, nil
}

func (s *MemoryStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	_ = ctx
	s.mu.Lock()
	s.rec = rec
	s.hasRec = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSettings(ctx context.Context) (AdminSettings, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *MemoryStore) PutSettings(ctx context.Context, v AdminSettings) error {
	_ = ctx
	s.mu.Lock()
	s.settings = v
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (s *MemoryStore) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *MemoryStore) Driver() string { return "memory" }
func (s *MemoryStore) Close() error   { return nil }
