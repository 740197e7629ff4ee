package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "quotebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json  (schedule + settings, rewritten atomically)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	auditFile *os.File
	state     fileState
}

type fileState struct {
	Schedule    *ScheduleRecord `json:"schedule,omitempty"`
	Settings    *AdminSettings  `json:"settings,omitempty"`
	UpdatedAtMS int64           `json:"updated_at_ms"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, statePath: prefix + ".state.json"}
	if err := loadState(s.statePath, &s.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A corrupt snapshot must not stop the bot; the calculator treats a
		// missing record as "never posted".
		log.Warn("storage: state snapshot unreadable; starting empty", logx.String("path", s.statePath), logx.Err(err))
		s.state = fileState{}
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

func loadState(path string, out *fileState) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) ReadSchedule(ctx context.Context) (ScheduleRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Schedule == nil {
		return ScheduleRecord{}, false, nil
	}
	return *s.state.Schedule, true, nil
}

func (s *fileStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.Schedule
	s.state.Schedule = &rec
	if err := s.flushLocked(); err != nil {
		s.state.Schedule = prev
		return err
	}
	return nil
}

func (s *fileStore) GetSettings(ctx context.Context) (AdminSettings, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Settings == nil {
		return DefaultAdminSettings(), nil
	}
	return *s.state.Settings, nil
}

func (s *fileStore) PutSettings(ctx context.Context, v AdminSettings) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.Settings
	s.state.Settings = &v
	if err := s.flushLocked(); err != nil {
		s.state.Settings = prev
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// flushLocked writes the snapshot to a temp file and renames it over the old
// one so a crash never leaves a half-written state file.
func (s *fileStore) flushLocked() error {
	s.state.UpdatedAtMS = time.Now().UnixMilli()

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}
