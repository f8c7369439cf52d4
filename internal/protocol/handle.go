package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/backend"
)

// Status represents the lifecycle state of a protocol server.
type Status string

const (
	StatusUnconfigured Status = "unconfigured"
	StatusConstructed  Status = "constructed"
	StatusStarted      Status = "started"
	StatusServing      Status = "serving"
	StatusCancelling   Status = "cancelling"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
)

// Config holds the supervision settings of a Handle.
type Config struct {
	// Name identifies the server profile in logs.
	Name string

	// StartupGrace is how long Start watches the serve loop before
	// reporting success. An exit inside the window is a startup error.
	StartupGrace time.Duration

	// ShutdownTimeout bounds how long Stop waits for the loop to unwind.
	ShutdownTimeout time.Duration

	// OnExit is called when the serve loop ends after a successful Start
	// without Stop having been called.
	OnExit func(err error)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		StartupGrace:    100 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Logger defines the logging interface for the handle.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle supervises the serve loop of one protocol server.
type Handle struct {
	config Config
	logger Logger
	server backend.Server

	mu        sync.RWMutex
	status    Status
	lastError error
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wraps a constructed server. A nil server leaves the handle
// unconfigured and Start fails.
func New(server backend.Server, cfg Config) *Handle {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.StartupGrace < 0 {
		cfg.StartupGrace = 0
	}
	status := StatusConstructed
	if server == nil {
		status = StatusUnconfigured
	}
	return &Handle{
		config: cfg,
		logger: noopLogger{},
		server: server,
		status: status,
	}
}

// SetLogger sets the logger for the handle.
func (h *Handle) SetLogger(logger Logger) {
	h.logger = logger
}

// Start prepares the server and launches its serve loop.
//
// The loop runs on a context detached from ctx: cancelling ctx after Start
// returns does not stop the server, Stop does.
//
// Returns:
//   - error: ErrAlreadyStarted, or ErrStartup wrapping the cause
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	switch h.status {
	case StatusConstructed:
	case StatusUnconfigured:
		h.mu.Unlock()
		return fmt.Errorf("%w: %s: no server configured", ErrStartup, h.config.Name)
	default:
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyStarted, h.config.Name, h.status)
	}
	h.status = StatusStarted
	h.mu.Unlock()

	h.logger.Info("modbus server starting", "name", h.config.Name)

	if p, ok := h.server.(backend.Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return h.startFailed(err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	h.mu.Lock()
	stopping := h.status == StatusCancelling
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	// A Stop that arrived during Prepare still gets a loop, on a cancelled
	// context, so the server releases what Prepare acquired.
	wait := h.config.StartupGrace
	if stopping {
		cancel()
		wait = h.config.ShutdownTimeout
	}
	go h.serve(runCtx, done)

	grace := time.NewTimer(wait)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
	}

	h.mu.Lock()
	switch h.status {
	case StatusStarted:
	case StatusCancelling, StatusStopped:
		h.mu.Unlock()
		return fmt.Errorf("%w: %s: stopped during startup", ErrStartup, h.config.Name)
	default:
		err := h.lastError
		h.mu.Unlock()
		cancel()
		return h.startFailed(err)
	}
	h.status = StatusServing
	h.startTime = time.Now()
	h.mu.Unlock()

	h.logger.Info("modbus server started", "name", h.config.Name)
	return nil
}

func (h *Handle) startFailed(err error) error {
	h.mu.Lock()
	h.status = StatusFailed
	h.lastError = err
	h.mu.Unlock()

	h.logger.Error("error starting modbus server", "name", h.config.Name, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrStartup, h.config.Name, err)
}

// serve runs the serve loop and records how it ended.
func (h *Handle) serve(ctx context.Context, done chan struct{}) {
	err := h.server.ServeForever(ctx)
	if err == nil {
		err = ErrExited
	}

	h.mu.Lock()
	prev := h.status
	if prev == StatusCancelling {
		h.status = StatusStopped
		if !errors.Is(err, context.Canceled) {
			h.lastError = err
		}
	} else {
		h.status = StatusFailed
		h.lastError = err
	}
	h.mu.Unlock()
	close(done)

	if prev == StatusServing {
		h.logger.Error("modbus server exited", "name", h.config.Name, "error", err)
		if h.config.OnExit != nil {
			h.config.OnExit(err)
		}
	}
}

// Stop cancels the serve loop and waits for it to finish. It is a no-op on
// a handle whose loop is not running. A Stop during Prepare returns at once
// and makes Start fail once Prepare is done.
//
// Returns:
//   - error: ErrShutdownTimeout if the loop outlives the shutdown timeout or ctx
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	switch h.status {
	case StatusStarted, StatusServing:
		h.status = StatusCancelling
		if h.done == nil {
			// Still preparing. Start sees the pending stop.
			h.mu.Unlock()
			return nil
		}
	case StatusCancelling:
		if h.done == nil {
			h.mu.Unlock()
			return nil
		}
	default:
		h.mu.Unlock()
		return nil
	}
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	h.logger.Info("stopping modbus server", "name", h.config.Name)
	cancel()

	timer := time.NewTimer(h.config.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		h.logger.Info("modbus server stopped", "name", h.config.Name)
		return nil
	case <-timer.C:
		h.logger.Error("modbus server did not stop", "name", h.config.Name, "timeout", h.config.ShutdownTimeout)
		return fmt.Errorf("%w: %s after %s", ErrShutdownTimeout, h.config.Name, h.config.ShutdownTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrShutdownTimeout, h.config.Name, ctx.Err())
	}
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsServing returns true while the serve loop is up.
func (h *Handle) IsServing() bool {
	return h.Status() == StatusServing
}

// Done returns a channel closed when the serve loop ends. It is nil before
// Start launched the loop.
func (h *Handle) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}

// Err returns the error that ended the serve loop or failed Start.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastError
}

// Stats is a snapshot of the handle state.
type Stats struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Uptime    string    `json:"uptime,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the handle state.
func (h *Handle) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Name: h.config.Name, Status: h.status}
	if !h.startTime.IsZero() {
		s.StartedAt = h.startTime
		if h.status == StatusServing {
			s.Uptime = time.Since(h.startTime).Truncate(time.Second).String()
		}
	}
	if h.lastError != nil {
		s.LastError = h.lastError.Error()
	}
	return s
}
