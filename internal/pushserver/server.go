// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"hytale-panel/internal/auth"
	"hytale-panel/internal/pathguard"
	"hytale-panel/internal/probe"
	"hytale-panel/internal/workflow"
)

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 3000
	defaultShutdownTimeout = 10 * time.Second
	defaultStartupTimeout  = 5 * time.Second
	defaultHistoryLines    = 100
	defaultSendQueue       = 64
	defaultMaxUploadBytes  = 4 << 30
	defaultDownloadBurst   = 3
	defaultDownloadEvery   = 2 * time.Second
)

var (
	// ErrUnauthorized is reported for requests without a valid token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingDependency is returned by New when a required Deps field is nil.
	ErrMissingDependency = errors.New("missing server dependency")
)

type (
	// Files answers the artifact questions of the file API.
	Files interface {
		CheckServerFiles(ctx context.Context) probe.ArtifactStatus
		CheckAuth(ctx context.Context) bool
		WipeData(ctx context.Context) probe.WipeResult
	}

	// Container is the container-side file and log access.
	Container interface {
		CopyIn(ctx context.Context, hostPath, containerPath string) error
		Logs(ctx context.Context, tail int) ([]string, error)
	}

	// Deps are the collaborators a Server routes requests to.
	Deps struct {
		Runner    *workflow.Runner
		Target    workflow.Target
		Files     Files
		Container Container
		Guard     pathguard.Guard
		// Issuer verifies tokens. It may be nil only when Config.AuthDisabled is set.
		Issuer *auth.Issuer
	}

	// Config holds immutable configuration for the server.
	Config struct {
		// Host is the address to bind to (default: 0.0.0.0)
		Host string
		// Port is the port to listen on (0 = auto-select)
		Port int
		// BasePath mounts every route under a prefix, e.g. "/panel".
		BasePath string
		// AuthDisabled serves every route without a token.
		AuthDisabled bool
		// ShutdownTimeout bounds graceful shutdown (default: 10s)
		ShutdownTimeout time.Duration
		// StartupTimeout bounds Start (default: 5s)
		StartupTimeout time.Duration
		// HistoryLines is the default page size of logs:history (default: 100)
		HistoryLines int
		// SendQueue is the per-connection outbound queue length (default: 64)
		SendQueue int
		// MaxUploadBytes caps an upload request body (default: 4 GiB)
		MaxUploadBytes int64
		// DownloadEvery and DownloadBurst rate-limit download requests per connection.
		DownloadEvery time.Duration
		DownloadBurst int
	}

	// Option configures a Server.
	Option func(*Server)

	// Server serves the file API and the push channel.
	// A Server instance is single-use: once stopped or failed, create a new instance.
	Server struct {
		cfg  Config
		deps Deps
		lc   *lifecycle

		handler http.Handler

		srvMu    sync.Mutex
		httpSrv  *http.Server
		listener net.Listener
		addr     string
		wg       sync.WaitGroup

		// ctx outlives individual connections; provisioning sessions run under it.
		ctx    context.Context
		cancel context.CancelFunc

		connMu sync.Mutex
		conns  map[*conn]struct{}

		logger *log.Logger
	}
)

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            defaultHost,
		Port:            defaultPort,
		ShutdownTimeout: defaultShutdownTimeout,
		StartupTimeout:  defaultStartupTimeout,
		HistoryLines:    defaultHistoryLines,
		SendQueue:       defaultSendQueue,
		MaxUploadBytes:  defaultMaxUploadBytes,
		DownloadEvery:   defaultDownloadEvery,
		DownloadBurst:   defaultDownloadBurst,
	}
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server. It does not listen until Start is called, but Handler
// is usable immediately.
func New(cfg Config, deps Deps, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if deps.Runner == nil || deps.Files == nil || deps.Container == nil || deps.Target.Env == nil {
		return nil, fmt.Errorf("%w: runner, target, files and container are required", ErrMissingDependency)
	}
	if deps.Issuer == nil && !cfg.AuthDisabled {
		return nil, fmt.Errorf("%w: a token issuer is required unless auth is disabled", ErrMissingDependency)
	}
	if deps.Guard.Base() == "" {
		return nil, fmt.Errorf("%w: upload guard", ErrMissingDependency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		lc:     newLifecycle(),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*conn]struct{}),
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "push-server"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = def.StartupTimeout
	}
	if c.HistoryLines <= 0 {
		c.HistoryLines = def.HistoryLines
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.DownloadEvery <= 0 {
		c.DownloadEvery = def.DownloadEvery
	}
	if c.DownloadBurst <= 0 {
		c.DownloadBurst = def.DownloadBurst
	}
	c.BasePath = strings.TrimRight(c.BasePath, "/")
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		c.BasePath = "/" + c.BasePath
	}
	return c
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens and begins serving. It blocks until the server is ready, fails,
// or ctx is done. After Start returns nil, use Err to monitor runtime failures.
func (s *Server) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		err := fmt.Errorf("context cancelled before start: %w", ctx.Err())
		s.lc.fail(err)
		return err
	default:
	}
	if err := s.lc.toStarting(); err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", addr, err)
		s.lc.fail(err)
		return err
	}

	s.srvMu.Lock()
	s.listener = listener
	s.addr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.srvMu.Unlock()

	s.wg.Go(s.serve)

	select {
	case <-s.lc.startedCh:
		s.logger.Info("push server started", "address", s.addr, "basePath", s.cfg.BasePath, "authDisabled", s.cfg.AuthDisabled)
		return nil
	case err := <-s.lc.errCh:
		return err
	case <-startupCtx.Done():
		_ = listener.Close()
		err := fmt.Errorf("startup timeout: %w", startupCtx.Err())
		s.lc.fail(err)
		return err
	}
}

func (s *Server) serve() {
	s.srvMu.Lock()
	srv, listener := s.httpSrv, s.listener
	s.srvMu.Unlock()

	s.lc.toRunning()
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		s.lc.fail(fmt.Errorf("serve error: %w", err))
	}
}

// Stop aborts running provisioning sessions, closes every push connection and
// shuts the HTTP server down. Safe to call multiple times.
func (s *Server) Stop() error {
	if !s.lc.toStopping() {
		s.cancel()
		s.wg.Wait()
		return nil
	}

	s.logger.Info("push server stopping",
		"connections", s.Connections(),
		"sessions", s.deps.Runner.Registry().Len())
	s.cancel()
	s.closeConns()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Sessions end their spans and release their containers before Stop returns.
	if err := s.deps.Runner.Drain(ctx); err != nil {
		s.logger.Warn("provisioning sessions still running", "error", err)
	}

	var shutdownErr error
	s.srvMu.Lock()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}
	s.srvMu.Unlock()

	s.wg.Wait()
	s.lc.state.Store(int32(StateStopped))
	s.logger.Info("push server stopped")
	return shutdownErr
}

// State returns the current server state.
func (s *Server) State() State { return s.lc.current() }

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool { return s.State() == StateRunning }

// Err receives a fatal serve error.
func (s *Server) Err() <-chan error { return s.lc.errCh }

// LastError returns the error that moved the server to StateFailed.
func (s *Server) LastError() error { return s.lc.err() }

// Address returns the bound host:port, or "" before Start.
func (s *Server) Address() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	addr := s.Address()
	if addr == "" {
		return ""
	}
	return "http://" + addr + s.cfg.BasePath
}

// Connections returns the number of open push connections.
func (s *Server) Connections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		c.shutdown("server shutting down")
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(s.cfg.DownloadEvery), s.cfg.DownloadBurst)
}
