// Package ops is the operational HTTP surface: liveness, queue/run-flag
// introspection, and optional pprof. It is read-only; operator mutations go
// through the admin tooling, not this server.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/storage"
	"newsdesk/pkg/logx"
)

// Config controls the ops HTTP server.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string // empty disables auth; then only loopback binds are allowed
	AllowInsecure bool   // permit non-loopback bind without a token
	Pprof         bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6060"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Server manages lifecycle for the ops listener.
type Server struct {
	store storage.Store

	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
	cfg  Config
}

func NewServer(store storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{store: store, log: log.With(logx.String("comp", "ops"))}
}

// Apply starts, stops, or rebinds the server according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		s.cfg = cfg
		return
	}
	if s.srv != nil && s.cfg == cfg {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(cfg)
	s.cfg = cfg
}

func (s *Server) startLocked(cfg Config) {
	if cfg.Token == "" && !cfg.AllowInsecure && !isLoopback(cfg.Addr) {
		s.log.Warn("refusing tokenless ops bind on non-loopback address",
			logx.String("addr", cfg.Addr))
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/status", s.auth(cfg.Token, http.HandlerFunc(s.handleStatus)))
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", s.auth(cfg.Token, http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", s.auth(cfg.Token, http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", s.auth(cfg.Token, http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", s.auth(cfg.Token, http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", s.auth(cfg.Token, http.HandlerFunc(pprof.Trace)))
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Warn("ops listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.Err(err))
		}
	}()
	s.log.Info("ops server enabled", logx.String("addr", s.addr), logx.Bool("pprof", cfg.Pprof))
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("ops server disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) auth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type statusResponse struct {
	Writing      bool           `json:"writing"`
	WritingSince *time.Time     `json:"writing_since,omitempty"`
	Jobs         map[string]int `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	flag, err := s.store.RunFlag(ctx)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		s.log.Warn("status: run flag", logx.Err(err))
		return
	}
	counts, err := s.store.CountJobs(ctx)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		s.log.Warn("status: job counts", logx.Err(err))
		return
	}

	resp := statusResponse{
		Writing: flag.Busy,
		Jobs:    make(map[string]int, len(counts)),
	}
	if flag.Busy {
		since := flag.Since
		resp.WritingSince = &since
	}
	for st, n := range counts {
		resp.Jobs[string(st)] = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
