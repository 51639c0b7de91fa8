package admin

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "durasched/internal/runtime/supervisor"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

const DefaultAddr = "127.0.0.1:8089"

// Config controls the admin HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts net/http/pprof under /debug, behind the same token.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

var ErrInsecureBind = errors.New("admin: non-loopback addr requires token or allow_insecure")

// Service serves the job API for one scheduler.
type Service struct {
	mu    sync.Mutex
	log   logx.Logger
	cfg   Config
	jobs  Jobs
	tasks Tasks

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, jobs Jobs, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, jobs: jobs, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// SetTasks exposes a goroutine snapshot under GET /tasks from the next Start.
func (s *Service) SetTasks(fn Tasks) {
	s.mu.Lock()
	s.tasks = fn
	s.mu.Unlock()
}

// Supervisor returns the serving supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Reconfigure applies cfg and starts, stops or restarts the server if needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Start binds the listener and serves in the background. It is a no-op when
// disabled or already serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}
	cur := s.cfg

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("admin refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
		return errors.WithHint(ErrInsecureBind, "set admin.token or bind to 127.0.0.1")
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("admin running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "admin listen %s", addr)
	}
	srv := &http.Server{
		Handler:      newRouter(s.jobs, s.tasks, cur, s.log),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("admin.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		err := srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		s.log.Error("admin server exited", logx.Err(err))
		return err
	})
	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, ln, sup := s.srv, s.ln, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	_ = ln.Close()
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("admin stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("admin stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
