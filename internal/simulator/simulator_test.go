package simulator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/backend"
	"github.com/nerrad567/gray-logic-modsim/internal/framer"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modsim/internal/journal"
	"github.com/nerrad567/gray-logic-modsim/internal/protocol"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

const testSetup = `{
  "server_list": {
    "server": {"comm": "tcp", "framer": "socket", "host": "127.0.0.1", "port": %d}
  },
  "device_list": {
    "device": {
      "setup": {"hr_size": 2, "co_size": 8},
      "write": {"hr": [[0, 1]]},
      "registers": [
        {"addr": 0, "type": "uint16", "value": 7},
        {"addr": 1, "type": "uint16", "value": 9}
      ]
    }
  }
}`

// fakeServer records when it is prepared relative to the HTTP listener.
type fakeServer struct {
	sim        *Simulator
	delay      time.Duration
	prepareErr error

	httpOpenAtPrepare atomic.Bool
	serving           atomic.Bool
}

func (f *fakeServer) Prepare(context.Context) error {
	f.httpOpenAtPrepare.Store(f.sim != nil && f.sim.HTTPAddr() != "")
	time.Sleep(f.delay)
	return f.prepareErr
}

func (f *fakeServer) ServeForever(ctx context.Context) error {
	f.serving.Store(true)
	<-ctx.Done()
	f.serving.Store(false)
	return ctx.Err()
}

// recorder collects lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	up     chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{up: make(chan struct{})}
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.Kind == EventUp {
		r.once.Do(func() { close(r.up) })
	}
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		if e.Kind != EventAPIRequest {
			out = append(out, e.Kind)
		}
	}
	return out
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, modbusPort int) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setup.json")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(testSetup, modbusPort)), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Simulator.SetupFile = path
	cfg.Simulator.StartupGrace = 20 * time.Millisecond
	cfg.Simulator.ShutdownTimeout = 2 * time.Second
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}

func testAssets() fstest.MapFS {
	return fstest.MapFS{"index.html": {Data: []byte("<!DOCTYPE html>simulator")}}
}

// fakeRegistry serves every tcp profile with srv.
func fakeRegistry(srv *fakeServer) *backend.Registry {
	return backend.NewRegistry(map[backend.Comm]backend.Constructor{
		backend.CommTCP: func(backend.Params) (backend.Server, error) { return srv, nil },
	})
}

func run(t *testing.T, s *Simulator) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	return errc
}

func waitUp(t *testing.T, rec *recorder, errc <-chan error) {
	t.Helper()
	select {
	case <-rec.up:
	case err := <-errc:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("simulator never came up")
	}
}

func TestSimulator_StartupOrdering(t *testing.T) {
	srv := &fakeServer{delay: 100 * time.Millisecond}
	rec := newRecorder()
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(srv),
		Assets:   testAssets(),
		Sinks:    []Sink{rec},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.sim = s

	errc := run(t, s)
	waitUp(t, rec, errc)

	if srv.httpOpenAtPrepare.Load() {
		t.Error("HTTP listener was open while the protocol server was preparing")
	}
	if !srv.serving.Load() || !s.Protocol().IsServing() {
		t.Error("protocol server not serving after up")
	}
	if s.HTTPAddr() == "" {
		t.Error("HTTP listener not open after up")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if srv.serving.Load() {
		t.Error("protocol server still serving after Stop")
	}
	if got := s.Protocol().Status(); got != protocol.StatusStopped {
		t.Errorf("protocol status = %q, want stopped", got)
	}
	if s.HTTPAddr() != "" {
		t.Error("HTTP listener still open after Stop")
	}

	want := []string{EventStarting, EventUp, EventStopping, EventDown}
	if got := rec.kinds(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}

	// Second stop is a no-op.
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() after Stop error = %v, want ErrStopped", err)
	}
}

func TestSimulator_ProtocolStartupFailure(t *testing.T) {
	cause := errors.New("address in use")
	srv := &fakeServer{prepareErr: cause}
	rec := newRecorder()
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(srv),
		Assets:   testAssets(),
		Sinks:    []Sink{rec},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Run(context.Background())
	if !errors.Is(err, protocol.ErrStartup) || !errors.Is(err, cause) {
		t.Fatalf("Run() error = %v, want protocol.ErrStartup wrapping cause", err)
	}
	if s.HTTPAddr() != "" {
		t.Error("HTTP listener opened despite protocol failure")
	}
	want := []string{EventStarting, EventStartFailed}
	if got := rec.kinds(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failed Run error = %v", err)
	}
}

func TestSimulator_ContextCancel(t *testing.T) {
	srv := &fakeServer{}
	rec := newRecorder()
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(srv),
		Assets:   testAssets(),
		Sinks:    []Sink{rec},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	waitUp(t, rec, errc)

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if srv.serving.Load() {
		t.Error("protocol server still serving")
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown server", mutate: func(c *config.Config) { c.Simulator.Server = "nope" }},
		{name: "unknown device", mutate: func(c *config.Config) { c.Simulator.Device = "nope" }},
		{name: "missing setup file", mutate: func(c *config.Config) { c.Simulator.SetupFile = "/nonexistent/setup.json" }},
		{name: "unknown action table", mutate: func(c *config.Config) { c.Simulator.CustomActions = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 5020)
			tt.mutate(cfg)
			_, err := New(Options{Config: cfg, Logger: testLogger(), Assets: testAssets()})
			if !errors.Is(err, setup.ErrConfig) {
				t.Errorf("New() error = %v, want setup.ErrConfig", err)
			}
		})
	}

	if _, err := New(Options{}); !errors.Is(err, setup.ErrConfig) {
		t.Errorf("New() without config error = %v, want setup.ErrConfig", err)
	}
}

func TestNew_DependencyMissing(t *testing.T) {
	cfg := testConfig(t, 5020)
	cfg.HTTP.WebDir = filepath.Join(t.TempDir(), "missing")
	if _, err := New(Options{Config: cfg, Logger: testLogger()}); !errors.Is(err, ErrDependencyMissing) {
		t.Errorf("New() error = %v, want ErrDependencyMissing", err)
	}
}

// TestSimulator_TCPScenario runs the tcp/socket profile end to end.
func TestSimulator_TCPScenario(t *testing.T) {
	port := freePort(t)
	rec := newRecorder()
	s, err := New(Options{Config: testConfig(t, port), Logger: testLogger(), Sinks: []Sink{rec}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	errc := run(t, s)
	waitUp(t, rec, errc)
	defer func() {
		if err := s.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	base := "http://" + s.HTTPAddr()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(base+"/api/data", "application/json", strings.NewReader(`{"type":"hr","address":0,"count":2}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // Checked via content
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"values":[7,9]`) {
		t.Errorf("POST /api/data = %d %s", resp.StatusCode, body)
	}

	resp, err = client.Get(base + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body) //nolint:errcheck // Checked via content
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<!DOCTYPE html>") {
		t.Errorf("GET / = %d", resp.StatusCode)
	}

	// Send the traversal path verbatim so the client does not clean it.
	conn, err := net.Dial("tcp", s.HTTPAddr())
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(conn, "GET /../secret HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	raw, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	raw.Body.Close()
	conn.Close()
	if raw.StatusCode != http.StatusNotFound {
		t.Errorf("GET /../secret = %d, want 404", raw.StatusCode)
	}

	// The same device answers over Modbus TCP.
	mb, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dialing modbus server: %v", err)
	}
	defer mb.Close()
	f, err := framer.New(framer.KindSocket)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteFrame(mb, framer.Frame{TransactionID: 1, Unit: 1, PDU: []byte{0x03, 0x00, 0x00, 0x00, 0x02}}); err != nil {
		t.Fatal(err)
	}
	mb.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline
	frame, err := f.ReadFrame(bufio.NewReader(mb))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if want := []byte{0x03, 0x04, 0x00, 0x07, 0x00, 0x09}; !bytes.Equal(frame.PDU, want) {
		t.Errorf("response PDU = % x, want % x", frame.PDU, want)
	}

	if got := s.Status().Requests; got != 1 {
		t.Errorf("Status().Requests = %d, want 1", got)
	}
}

func TestSimulator_ResetCommand(t *testing.T) {
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(&fakeServer{}),
		Assets:   testAssets(),
	})
	if err != nil {
		t.Fatal(err)
	}
	d := delegate{s}
	if _, err := d.Request(context.Background(), map[string]any{"function_code": 6.0, "address": 0.0, "values": []any{42.0}}); err != nil {
		t.Fatal(err)
	}
	if regs, _ := s.store.Registers("hr", 0, 1); regs[0] != 42 { //nolint:errcheck // In range
		t.Fatalf("register after write = %d, want 42", regs[0])
	}

	if err := s.handleCommand("reset", nil); err != nil {
		t.Fatalf("handleCommand(reset) error = %v", err)
	}
	if regs, _ := s.store.Registers("hr", 0, 1); regs[0] != 7 { //nolint:errcheck // In range
		t.Errorf("register after reset = %d, want 7", regs[0])
	}
	if err := s.handleCommand("explode", nil); err == nil {
		t.Error("handleCommand(explode) succeeded")
	}
}

func TestSimulator_StopBeforeRun(t *testing.T) {
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(&fakeServer{}),
		Assets:   testAssets(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() after Stop error = %v, want ErrStopped", err)
	}
}

// memJournal records journal entries in memory.
type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Create(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memJournal) List(context.Context, journal.Filter) (*journal.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &journal.ListResult{Entries: slices.Clone(m.entries), Total: len(m.entries)}, nil
}

func (m *memJournal) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

func TestSimulator_Attach(t *testing.T) {
	rec := newRecorder()
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(&fakeServer{}),
		Assets:   testAssets(),
		Sinks:    []Sink{rec},
	})
	if err != nil {
		t.Fatal(err)
	}

	repo := &memJournal{}
	if err := s.Attach(Attachments{Journal: repo}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	errc := run(t, s)
	waitUp(t, rec, errc)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got := repo.events()
	if len(got) == 0 || got[0] != EventStarting {
		t.Errorf("journal events = %v, want to start with %s", got, EventStarting)
	}
	if err := s.Attach(Attachments{Journal: repo}); !errors.Is(err, ErrStopped) {
		t.Errorf("Attach() after Stop error = %v, want ErrStopped", err)
	}
}
