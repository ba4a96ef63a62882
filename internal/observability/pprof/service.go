// Package pprof serves the optional debug listener: net/http/pprof under a
// prefix, /healthz, and a JSON /status snapshot of the running daemon.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "schedd/internal/runtime/supervisor"
	logx "schedd/pkg/logx"
)

const (
	DefaultAddr   = "127.0.0.1:6060"
	DefaultPrefix = "/debug/pprof/"
)

// Config controls the debug listener. A non-loopback Addr needs Token or
// AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 so /profile can run 30s+
	IdleTimeout  time.Duration
}

// StatusFunc returns a JSON-serializable snapshot for /status.
type StatusFunc func() any

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	status StatusFunc

	srv      *http.Server
	addr     string
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, status StatusFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, status: status, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listen address while serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg and starts, stops or restarts the listener.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. The server runs under a restart loop.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "pprof"))),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.sup, s.stopDone, s.addr = nil, nil, nil, ""
		s.mu.Unlock()
		s.log.Info("pprof stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Handler builds the mux for cfg.
func (s *Service) Handler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/status", wrap(func(w http.ResponseWriter, r *http.Request) {
		if s.status == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.status()); err != nil {
			s.log.Warn("status encode failed", logx.Err(err))
		}
	}))
	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	if !cur.Enabled {
		return nil
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("pprof refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return errors.New("pprof refused to start: insecure bind")
		}
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pprof listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", normalizePrefix(cur.Prefix)),
		logx.Bool("token_set", cur.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			ah := r.Header.Get("Authorization")
			if after, ok := strings.CutPrefix(ah, "Bearer "); ok {
				got = strings.TrimSpace(after)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt rewrites the path because hpprof.Index assumes /debug/pprof/.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
