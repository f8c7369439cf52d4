package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Hook is a lifecycle callback registered with OnStartup or OnShutdown.
type Hook func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.HTTPConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	// Assets is the static asset root. Paths are resolved inside it only.
	Assets fs.FS

	// Delegate answers the POST /api* routes.
	Delegate Delegate

	// Status returns the body of GET /api/status. Optional.
	Status func() any

	// Hub is used for GET /api/events when set; otherwise the server owns one.
	Hub *Hub

	Version string
}

// Server is the HTTP server of the simulator.
//
// The server is created with New, its lifecycle hooks are registered, and
// it is started with Start.
type Server struct {
	cfg      config.HTTPConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	assets   fs.FS
	delegate Delegate
	status   func() any
	version  string
	hub      *Hub
	ownHub   bool
	handler  http.Handler

	mu       sync.Mutex
	startup  []Hook
	shutdown []Hook
	server   *http.Server
	listener net.Listener
	started  bool
	closed   bool
	cancel   context.CancelFunc
	stopHub  context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: ErrMissingDependency if the logger, assets or delegate are nil
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	case deps.Assets == nil:
		return nil, fmt.Errorf("%w: static assets", ErrMissingDependency)
	case deps.Delegate == nil:
		return nil, fmt.Errorf("%w: api delegate", ErrMissingDependency)
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		assets:   deps.Assets,
		delegate: deps.Delegate,
		status:   deps.Status,
		version:  deps.Version,
		hub:      deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the event hub behind GET /api/events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// OnStartup registers a hook run by Start before the listener opens.
func (s *Server) OnStartup(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startup = append(s.startup, h)
}

// OnShutdown registers a hook run by Close after the HTTP server stopped.
// Shutdown hooks also run when Start fails, so they must tolerate a
// startup hook that never ran or failed.
func (s *Server) OnShutdown(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = append(s.shutdown, h)
}

// Start runs the startup hooks and then begins listening.
//
// The listener is opened only after every startup hook returned nil. On a
// hook or listen failure the shutdown hooks run and the error is returned.
//
// Parameters:
//   - ctx: Context passed to the startup hooks (not used for listener lifetime)
//
// Returns:
//   - error: ErrAlreadyStarted, ErrStartupHook wrapping the hook error, or a listen error
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	hooks := slices.Clone(s.startup)
	s.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			s.abortStart()
			return fmt.Errorf("%w: %w", ErrStartupHook, err)
		}
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.abortStart()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	hubCtx, stopHub := context.WithCancel(srvCtx)
	if s.ownHub {
		go s.hub.Run(hubCtx)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.stopHub = stopHub
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "address", ln.Addr().String())
	return nil
}

// abortStart runs the shutdown hooks after a failed Start and marks the
// server closed.
func (s *Server) abortStart() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.runShutdownHooks(context.Background()) //nolint:errcheck // Errors are logged by runShutdownHooks
}

// Close gracefully shuts down the HTTP server, then runs the shutdown hooks
// in reverse registration order. Every hook runs even if an earlier step
// failed. Close is a no-op on a server that is not running.
//
// Returns:
//   - error: Joined shutdown and hook errors
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv, cancel, stopHub := s.server, s.cancel, s.stopHub
	s.mu.Unlock()

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	var errs []error
	s.logger.Info("HTTP server shutting down")
	// Hijacked event streams are not tracked by Shutdown. In-flight requests
	// keep their context until they drain.
	stopHub()
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}
	cancel()
	if err := s.runShutdownHooks(context.Background()); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *Server) runShutdownHooks(ctx context.Context) error {
	s.mu.Lock()
	hooks := slices.Clone(s.shutdown)
	s.mu.Unlock()

	var errs []error
	for _, h := range slices.Backward(hooks) {
		if err := h(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HealthCheck verifies the API server is listening.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.Addr() == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
