package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "quotebot/pkg/logx"
)

var (
	bucketSchedule = []byte("schedule")
	bucketSettings = []byte("settings")
	bucketAudit    = []byte("audit")
)

type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// Timeout guards against a second process holding the file lock.
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSchedule, bucketSettings, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Driver() string { return "bolt" }

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) ReadSchedule(ctx context.Context) (ScheduleRecord, bool, error) {
	_ = ctx
	var (
		rec ScheduleRecord
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedule).Get([]byte(singletonKey))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return ScheduleRecord{}, false, err
	}
	return rec, ok, nil
}

func (s *boltStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	_ = ctx
	return s.putJSON(bucketSchedule, singletonKey, rec)
}

func (s *boltStore) GetSettings(ctx context.Context) (AdminSettings, error) {
	_ = ctx
	out := DefaultAdminSettings()
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(singletonKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

func (s *boltStore) PutSettings(ctx context.Context, v AdminSettings) error {
	_ = ctx
	return s.putJSON(bucketSettings, singletonKey, v)
}

func (s *boltStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		// Zero-padded keys keep cursor order chronological.
		key := strconv.FormatUint(seq, 10)
		key = strings.Repeat("0", max(0, 20-len(key))) + key
		return b.Put([]byte(key), data)
	})
}

func (s *boltStore) putJSON(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}
