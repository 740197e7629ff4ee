// Package httpapi serves the liveness probe, the forced-post trigger and
// Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"quotebot/internal/metrics"
	"quotebot/internal/publisher"
	logx "quotebot/pkg/logx"
)

const DefaultAddr = ":8080"

// Config controls the HTTP server.
//
// Security: /force publishes immediately and /debug/pprof/ exposes process
// internals. Set Token whenever Addr is reachable from outside localhost.
type Config struct {
	Addr    string
	Token   string
	Metrics bool
	Pprof   bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Prober interface {
	Probe(ctx context.Context) publisher.ProbeResult
}

type Forcer interface {
	ForcePost(ctx context.Context, channelID string) error
}

type Deps struct {
	Health  Prober // nil reports healthy
	Forcer  Forcer
	Channel func() string
	// OnForceError reports a failed forced post (admin alert).
	OnForceError func(err error)
}

type Server struct {
	log logx.Logger
	cfg Config
	d   Deps

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, d Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if d.Channel == nil {
		d.Channel = func() string { return "" }
	}
	return &Server{cfg: cfg, d: d, log: log.With(logx.String("comp", "http"))}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /force", s.withAuth(s.handleForce))
	mux.HandleFunc("POST /force", s.withAuth(s.handleForce))
	if s.cfg.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", s.withAuth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.withAuth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.withAuth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.withAuth(hpprof.Trace))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health == nil {
		writeText(w, http.StatusOK, "OK")
		return
	}
	res := s.d.Health.Probe(r.Context())
	if res.Healthy {
		writeText(w, http.StatusOK, "OK")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "Service Unavailable")
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	ch := strings.TrimSpace(s.d.Channel())
	if s.d.Forcer == nil || ch == "" {
		writeText(w, http.StatusInternalServerError, "Scheduler is not initialized")
		return
	}
	if err := s.d.Forcer.ForcePost(r.Context(), ch); err != nil {
		s.log.Warn("forced post via http failed", logx.Err(err))
		if s.d.OnForceError != nil {
			s.d.OnForceError(err)
		}
		writeText(w, http.StatusInternalServerError, "Error in force endpoint")
		return
	}
	s.log.Info("forced post via http", logx.String("remote", r.RemoteAddr))
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Authorization: Bearer <token> or ?token=<token>
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeText(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// Start binds the listener and serves until Stop. It returns once listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.srv, s.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("http server started", logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""), logx.Bool("metrics", s.cfg.Metrics))
	return nil
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully within ctx, then closes it.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("http server stopped")
}
