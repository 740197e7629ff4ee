package config

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "quotebot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

// Manager holds the committed config and reloads it when the file changes.
// Reloads that fail to parse or validate are logged and dropped; the last
// good config stays in effect.
type Manager struct {
	path    string
	updates chan *Config

	mu       sync.RWMutex
	cfg      *Config
	sum      uint64
	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, updates: make(chan *Config, 1)}
}

func (m *Manager) SetLogger(log logx.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

// SetValidator installs the check a reload must pass before it is committed.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.mu.Lock()
	m.validate = fn
	m.mu.Unlock()
}

// Load reads and commits the file without validation hooks.
func (m *Manager) Load() (*Config, error) {
	cfg, sum, err := m.read()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Updates delivers committed reloads. It holds only the newest one: a
// reader that falls behind skips straight to the latest config.
func (m *Manager) Updates() <-chan *Config { return m.updates }

func (m *Manager) read() (*Config, uint64, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, err
	}
	cfg, err := ParseBytes(m.path, b)
	if err != nil {
		return nil, 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write(expandEnv(b))
	return cfg, h.Sum64(), nil
}

func (m *Manager) reload(ctx context.Context) {
	m.mu.RLock()
	log, validate, prev := m.log, m.validate, m.sum
	m.mu.RUnlock()

	cfg, sum, err := m.read()
	if err != nil {
		log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	if sum == prev {
		log.Debug("config file touched without changes", logx.String("path", m.path))
		return
	}
	if validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := validate(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()

	select {
	case <-m.updates:
	default:
	}
	m.updates <- cfg
}

// Watch reloads on changes to the config file until ctx ends. The directory
// is watched so editors that replace the file by rename are followed; a
// broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	var (
		pendingMu sync.Mutex
		pending   *time.Timer
	)
	trigger := func() {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		pendingMu.Lock()
		if pending != nil {
			pending.Stop()
		}
		pendingMu.Unlock()
	}()

	wait := rewatchMin
	for ctx.Err() == nil {
		started := time.Now()
		err := m.watchOnce(ctx, trigger)
		if ctx.Err() != nil {
			break
		}
		if time.Since(started) > rewatchMax {
			wait = rewatchMin
		}
		m.Logger().Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait + rand.N(wait/2+1)):
		}
		wait = min(wait*2, rewatchMax)
	}
	return nil
}

func (m *Manager) Logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// watchOnce runs one watcher until ctx ends or the watcher breaks.
func (m *Manager) watchOnce(ctx context.Context, trigger func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.Logger().Debug("watching config", logx.String("path", m.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fsnotify.ErrClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && !ev.Has(fsnotify.Chmod) {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fsnotify.ErrClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				trigger()
				continue
			}
			m.Logger().Warn("config watch error", logx.Err(err))
		}
	}
}
