package storage

import (
	"errors"
	"strings"

	logx "quotebot/pkg/logx"
)

// Open initializes the configured store.
// An empty driver (or "none") falls back to the in-memory store, which loses
// the schedule on restart; a warning is logged in that case.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		log.Warn("storage: using in-memory store; schedule will not survive restarts", logx.String("driver", driver))
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
