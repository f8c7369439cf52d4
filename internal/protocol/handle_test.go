package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// blockingServer serves until cancelled.
type blockingServer struct {
	prepareErr error
	prepared   atomic.Bool
	serving    atomic.Bool
}

func (s *blockingServer) Prepare(context.Context) error {
	s.prepared.Store(true)
	return s.prepareErr
}

func (s *blockingServer) ServeForever(ctx context.Context) error {
	s.serving.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

// exitingServer returns err after delay.
type exitingServer struct {
	delay time.Duration
	err   error
}

func (s exitingServer) ServeForever(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stubbornServer ignores cancellation.
type stubbornServer struct {
	release chan struct{}
}

func (s stubbornServer) ServeForever(context.Context) error {
	<-s.release
	return nil
}

// gatedServer blocks in Prepare until release is closed.
type gatedServer struct {
	entered     chan struct{}
	release     chan struct{}
	served      atomic.Bool
	cancelledIn atomic.Bool
}

func (s *gatedServer) Prepare(context.Context) error {
	close(s.entered)
	<-s.release
	return nil
}

func (s *gatedServer) ServeForever(ctx context.Context) error {
	s.served.Store(true)
	s.cancelledIn.Store(ctx.Err() != nil)
	<-ctx.Done()
	return ctx.Err()
}

func testConfig() Config {
	return Config{Name: "test", StartupGrace: 20 * time.Millisecond, ShutdownTimeout: time.Second}
}

func TestNew_Status(t *testing.T) {
	if got := New(&blockingServer{}, testConfig()).Status(); got != StatusConstructed {
		t.Errorf("Status() = %q, want %q", got, StatusConstructed)
	}
	h := New(nil, testConfig())
	if got := h.Status(); got != StatusUnconfigured {
		t.Errorf("Status() = %q, want %q", got, StatusUnconfigured)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrStartup) {
		t.Errorf("Start() on unconfigured handle error = %v, want ErrStartup", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("server")
	if cfg.StartupGrace != 100*time.Millisecond {
		t.Errorf("StartupGrace = %v, want 100ms", cfg.StartupGrace)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestHandle_StartStop(t *testing.T) {
	srv := &blockingServer{}
	h := New(srv, testConfig())

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !srv.prepared.Load() {
		t.Error("Prepare() was not called")
	}
	if !h.IsServing() {
		t.Errorf("Status() = %q, want serving", h.Status())
	}
	if st := h.Stats(); st.StartedAt.IsZero() || st.Status != StatusServing {
		t.Errorf("Stats() = %+v", st)
	}

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := h.Status(); got != StatusStopped {
		t.Errorf("Status() after Stop = %q, want stopped", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed after Stop")
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() after clean stop = %v, want nil", err)
	}

	// Second stop is a no-op.
	if err := h.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() after Stop error = %v, want ErrAlreadyStarted", err)
	}
}

func TestHandle_StartTwice(t *testing.T) {
	h := New(&blockingServer{}, testConfig())
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(context.Background())

	if err := h.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestHandle_PrepareFailure(t *testing.T) {
	cause := errors.New("address in use")
	srv := &blockingServer{prepareErr: cause}
	h := New(srv, testConfig())

	err := h.Start(context.Background())
	if !errors.Is(err, ErrStartup) || !errors.Is(err, cause) {
		t.Fatalf("Start() error = %v, want ErrStartup wrapping cause", err)
	}
	if srv.serving.Load() {
		t.Error("ServeForever() ran after Prepare failed")
	}
	if got := h.Status(); got != StatusFailed {
		t.Errorf("Status() = %q, want failed", got)
	}
	if !errors.Is(h.Err(), cause) {
		t.Errorf("Err() = %v, want cause", h.Err())
	}
}

func TestHandle_ExitDuringGrace(t *testing.T) {
	cause := errors.New("bind failed")
	var exits atomic.Int32
	cfg := testConfig()
	cfg.StartupGrace = time.Second
	cfg.OnExit = func(error) { exits.Add(1) }
	h := New(exitingServer{delay: 0, err: cause}, cfg)

	err := h.Start(context.Background())
	if !errors.Is(err, ErrStartup) || !errors.Is(err, cause) {
		t.Fatalf("Start() error = %v, want ErrStartup wrapping cause", err)
	}
	if exits.Load() != 0 {
		t.Error("OnExit called for a startup failure")
	}
}

func TestHandle_SelfTermination(t *testing.T) {
	cause := errors.New("serial line lost")
	exited := make(chan error, 1)
	cfg := testConfig()
	cfg.OnExit = func(err error) { exited <- err }
	h := New(exitingServer{delay: 100 * time.Millisecond, err: cause}, cfg)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-exited:
		if !errors.Is(err, cause) {
			t.Errorf("OnExit(%v), want cause", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit not called")
	}
	if got := h.Status(); got != StatusFailed {
		t.Errorf("Status() = %q, want failed", got)
	}
	if err := h.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after self termination error = %v", err)
	}
}

func TestHandle_NilReturnIsExit(t *testing.T) {
	h := New(exitingServer{delay: 0, err: nil}, testConfig())
	if err := h.Start(context.Background()); !errors.Is(err, ErrExited) {
		t.Errorf("Start() error = %v, want ErrExited", err)
	}
}

func TestHandle_CallerCancelDoesNotStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(&blockingServer{}, testConfig())
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	if !h.IsServing() {
		t.Errorf("Status() after caller cancel = %q, want serving", h.Status())
	}
	if err := h.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestHandle_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cfg := testConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	h := New(stubbornServer{release: release}, cfg)

	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Stop(context.Background()); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Stop() error = %v, want ErrShutdownTimeout", err)
	}
	if got := h.Status(); got != StatusCancelling {
		t.Errorf("Status() = %q, want cancelling", got)
	}
}

func TestHandle_StopContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := New(stubbornServer{release: release}, testConfig())
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Stop(ctx)
	if !errors.Is(err, ErrShutdownTimeout) || !errors.Is(err, context.Canceled) {
		t.Errorf("Stop() error = %v, want ErrShutdownTimeout wrapping context.Canceled", err)
	}
}

func TestHandle_StopBeforeStart(t *testing.T) {
	h := New(&blockingServer{}, testConfig())
	if err := h.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
	if h.Done() != nil {
		t.Error("Done() != nil before Start")
	}
}

func TestHandle_StopDuringPrepare(t *testing.T) {
	srv := &gatedServer{entered: make(chan struct{}), release: make(chan struct{})}
	h := New(srv, testConfig())

	errc := make(chan error, 1)
	go func() { errc <- h.Start(context.Background()) }()
	<-srv.entered

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() during Prepare error = %v", err)
	}
	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() during Prepare error = %v", err)
	}
	close(srv.release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStartup) {
			t.Errorf("Start() error = %v, want ErrStartup", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return")
	}
	if got := h.Status(); got != StatusStopped {
		t.Errorf("Status() = %q, want %q", got, StatusStopped)
	}
	if h.IsServing() {
		t.Error("IsServing() = true after a stop during Prepare")
	}
	if srv.served.Load() && !srv.cancelledIn.Load() {
		t.Error("serve loop ran on a live context")
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
