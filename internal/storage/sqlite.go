package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "quotebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ReadSchedule(ctx context.Context) (ScheduleRecord, bool, error) {
	if s == nil || s.db == nil {
		return ScheduleRecord{}, false, ErrDisabled
	}
	var rec ScheduleRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT last_post_at, next_post_at FROM schedule WHERE key = ?`, singletonKey,
	).Scan(&rec.LastPostAt, &rec.NextPostAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleRecord{}, false, nil
	}
	if err != nil {
		return ScheduleRecord{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(key, last_post_at, next_post_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   last_post_at=excluded.last_post_at,
		   next_post_at=excluded.next_post_at,
		   updated_at=excluded.updated_at`,
		singletonKey, rec.LastPostAt, rec.NextPostAt, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetSettings(ctx context.Context) (AdminSettings, error) {
	if s == nil || s.db == nil {
		return AdminSettings{}, ErrDisabled
	}
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT alerts_enabled FROM admin_settings WHERE key = ?`, singletonKey,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultAdminSettings(), nil
	}
	if err != nil {
		return AdminSettings{}, err
	}
	return AdminSettings{AlertsEnabled: enabled != 0}, nil
}

func (s *sqliteStore) PutSettings(ctx context.Context, v AdminSettings) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_settings(key, alerts_enabled, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   alerts_enabled=excluded.alerts_enabled,
		   updated_at=excluded.updated_at`,
		singletonKey, boolInt(v.AlertsEnabled), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername),
		e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
