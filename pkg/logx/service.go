package logx

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	lj "gopkg.in/natefinch/lumberjack.v2"

	kit "quotebot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig enables the rotated JSON file sink; zero sizes pick defaults.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelegramConfig forwards events at or above MinLevel to the admin chat,
// at most RatePerSec per second.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./quotebot.log"

// Service owns the sinks and rebuilds the root logger on Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]
	tg   *telegramSink

	mu   sync.Mutex
	file *lj.Logger
}

// New applies cfg and returns the service plus a logger that follows it.
// sender may be nil; the Telegram sink then stays silent.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	setGlobals()
	s := &Service{tg: newTelegramSink(sender, cfg.Telegram.ThreadID)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{root: &s.root} }

// SetTelegramTarget points the Telegram sink at the admin chat. A zero
// ThreadID keeps the configured one.
func (s *Service) SetTelegramTarget(to kit.ChatTarget) { s.tg.setTarget(to) }

// Apply rebuilds the sinks. Loggers already handed out switch over at once.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tg.configure(cfg.Telegram)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openRotating(cfg.File); err != nil {
			fmt.Fprintf(os.Stderr, "logx: file sink disabled: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.tg.start()
		writers = append(writers, s.tg)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// Closed only after the swap so no event lands on a closed file.
	if prev != nil {
		_ = prev.Close()
	}
}

// Close stops the Telegram worker and closes the log file.
func (s *Service) Close() error {
	s.tg.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func openRotating(fc FileConfig) (*lj.Logger, error) {
	path := cmp.Or(strings.TrimSpace(fc.Path), defaultLogPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    positiveOr(fc.MaxSizeMB, 10),
		MaxBackups: positiveOr(fc.MaxBackups, 3),
		MaxAge:     positiveOr(fc.MaxAgeDays, 7),
		Compress:   fc.Compress,
	}, nil
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
