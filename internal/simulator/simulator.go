package simulator

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-modsim/internal/actions"
	"github.com/nerrad567/gray-logic-modsim/internal/api"
	"github.com/nerrad567/gray-logic-modsim/internal/backend"
	"github.com/nerrad567/gray-logic-modsim/internal/datastore"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-modsim/internal/journal"
	"github.com/nerrad567/gray-logic-modsim/internal/protocol"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
	"github.com/nerrad567/gray-logic-modsim/internal/web"
)

// Options holds the inputs of New. Only Config is required.
type Options struct {
	Config *config.Config
	Logger *logging.Logger

	// Instance names this simulator in MQTT topics and metrics. Empty uses
	// Config.Simulator.ID, then a random UUID.
	Instance string

	// Registry overrides the production backends.
	Registry *backend.Registry

	// Assets overrides the static asset root selected by Config.HTTP.WebDir.
	Assets fs.FS

	// Optional connected sinks, equivalent to calling Attach after New.
	MQTT    *mqtt.Client
	Influx  *influxdb.Client
	Journal journal.Repository

	// Sinks receive every lifecycle event in addition to the above.
	Sinks []Sink

	Version string
}

// Attachments are connected sinks added to a configured simulator. The
// caller owns and closes them.
type Attachments struct {
	MQTT    *mqtt.Client
	Influx  *influxdb.Client
	Journal journal.Repository
}

// Simulator owns the protocol server handle and the HTTP server of one run.
type Simulator struct {
	cfg      *config.Config
	logger   *logging.Logger
	instance string
	runID    string
	version  string

	server   string
	device   string
	resolved backend.Resolved
	store    *datastore.Device
	handler  *datastore.ServerContext
	protocol *protocol.Handle
	http     *api.Server

	mqtt   *mqtt.Client
	influx *influxdb.Client
	sinks  []Sink

	mu       sync.Mutex
	running  bool
	stopped  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New builds a simulator from its configuration. No socket or file other
// than the setup document and the asset root is opened.
//
// Returns:
//   - *Simulator: Ready to Run
//   - error: Wrapping setup.ErrConfig for configuration errors, or
//     ErrDependencyMissing when the asset root is unusable
func New(opts Options) (*Simulator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", setup.ErrConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = backend.DefaultRegistry()
	}

	s := &Simulator{
		cfg:      cfg,
		logger:   logger,
		instance: instanceID(opts.Instance, cfg.Simulator.ID),
		runID:    uuid.NewString(),
		version:  opts.Version,
		server:   cfg.Simulator.Server,
		device:   cfg.Simulator.Device,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	doc, err := setup.Load(cfg.Simulator.SetupFile)
	if err != nil {
		return nil, err
	}
	serverProfile, deviceProfile, err := doc.Select(s.server, s.device)
	if err != nil {
		return nil, err
	}

	s.resolved, err = registry.Resolve(serverProfile)
	if err != nil {
		return nil, err
	}

	custom, err := actions.Lookup(cfg.Simulator.CustomActions)
	if err != nil {
		return nil, err
	}
	s.store, err = datastore.FromProfile(deviceProfile, custom)
	if err != nil {
		return nil, err
	}
	s.handler = datastore.NewServerContext(s.store)

	srv, err := registry.Build(serverProfile, s.handler, logger.With("component", "backend"))
	if err != nil {
		return nil, err
	}
	s.protocol = protocol.New(srv, protocol.Config{
		Name:            s.server,
		StartupGrace:    cfg.Simulator.StartupGrace,
		ShutdownTimeout: cfg.Simulator.ShutdownTimeout,
		OnExit:          s.protocolExited,
	})
	s.protocol.SetLogger(logger)

	assets := opts.Assets
	if assets == nil {
		assets, err = web.Open(cfg.HTTP.WebDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDependencyMissing, err)
		}
	}

	s.http, err = api.New(api.Deps{
		Config:   cfg.HTTP,
		WS:       cfg.WebSocket,
		Logger:   logger.With("component", "http"),
		Assets:   assets,
		Delegate: delegate{s},
		Status:   func() any { return s.Status() },
		Version:  opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyMissing, err)
	}
	s.http.OnStartup(s.startProtocol)
	s.http.OnShutdown(s.stopProtocol)

	s.sinks = append(s.sinks, hubSink{hub: s.http.Hub()})
	s.sinks = append(s.sinks, opts.Sinks...)
	s.attach(Attachments{MQTT: opts.MQTT, Influx: opts.Influx, Journal: opts.Journal})

	logger.Info("simulator configured",
		"instance", s.instance,
		"server", s.server,
		"comm", s.resolved.Comm,
		"framer", s.resolved.Framer,
		"device", s.device,
		"custom_actions", cfg.Simulator.CustomActions,
	)
	return s, nil
}

// Attach adds connected sinks. Sinks are fixed once Run has been called, so
// Attach must come before Run.
//
// Returns:
//   - error: ErrAlreadyRunning or ErrStopped after Run or Stop
func (s *Simulator) Attach(a Attachments) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return ErrStopped
	case s.running:
		return ErrAlreadyRunning
	}
	s.attach(a)
	return nil
}

func (s *Simulator) attach(a Attachments) {
	if a.MQTT != nil {
		s.mqtt = a.MQTT
		s.sinks = append(s.sinks, mqttSink{client: a.MQTT, logger: s.logger})
	}
	if a.Influx != nil {
		s.influx = a.Influx
		s.sinks = append(s.sinks, influxSink{client: a.Influx})
	}
	if a.Journal != nil {
		s.sinks = append(s.sinks, journalSink{repo: a.Journal, logger: s.logger})
	}
}

func instanceID(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return uuid.NewString()
}

// Run starts the simulator and blocks until ctx is cancelled or Stop is
// called, then shuts down.
//
// Returns:
//   - error: Startup failure (wrapping protocol.ErrStartup for protocol
//     server failures), ErrAlreadyRunning, or ErrStopped. Teardown errors
//     are logged, not returned.
func (s *Simulator) Run(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case s.running:
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.done)

	if err := s.http.Start(ctx); err != nil {
		s.markStopped()
		return fmt.Errorf("starting simulator: %w", err)
	}
	s.emit(EventUp, nil, map[string]any{"http": s.http.Addr().String()})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if s.mqtt != nil {
		if err := s.mqtt.SubscribeCommands(s.handleCommand); err != nil {
			s.logger.Warn("subscribing to MQTT commands failed", "error", err)
		}
	}
	if s.influx != nil || s.mqtt != nil {
		wg.Go(func() { s.reportStats(runCtx) })
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case <-s.stop:
		s.logger.Info("stop requested")
	}

	cancel()
	wg.Wait()
	s.markStopped()
	if err := s.http.Close(); err != nil {
		s.logger.Error("error during shutdown", "error", err)
	}
	s.writeStats()
	return nil
}

func (s *Simulator) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Stop asks Run to shut down and waits for it. Stop is idempotent and a
// no-op on a simulator that never ran.
//
// Returns:
//   - error: ctx.Err() if ctx ends before shutdown completes
func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.stopped = true
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if !running {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for simulator shutdown: %w", ctx.Err())
	}
}

// Done returns a channel closed when Run has returned.
func (s *Simulator) Done() <-chan struct{} {
	return s.done
}

// startProtocol is the first HTTP startup hook.
func (s *Simulator) startProtocol(ctx context.Context) error {
	s.emit(EventStarting, nil, nil)
	if err := s.protocol.Start(ctx); err != nil {
		s.emit(EventStartFailed, err, nil)
		return err
	}
	return nil
}

// stopProtocol is the HTTP shutdown hook. It also runs after a failed
// start, where the handle is not running and Stop is a no-op.
func (s *Simulator) stopProtocol(ctx context.Context) error {
	if !s.protocol.IsServing() && s.protocol.Status() != protocol.StatusCancelling {
		return nil
	}
	s.emit(EventStopping, nil, nil)
	err := s.protocol.Stop(ctx)
	s.emit(EventDown, err, nil)
	return err
}

// protocolExited is called when the serve loop ends on its own.
// The protocol server is not restarted.
func (s *Simulator) protocolExited(err error) {
	s.emit(EventProtocolExited, err, nil)
}

// handleCommand runs an MQTT command.
func (s *Simulator) handleCommand(name string, _ []byte) error {
	switch name {
	case "reset":
		s.store.Reset()
		s.logger.Info("device reset by command")
		s.emit(EventReset, nil, map[string]any{"source": "mqtt"})
		return nil
	case "stop":
		s.stopOnce.Do(func() { close(s.stop) })
		return nil
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (s *Simulator) emit(kind string, cause error, details map[string]any) {
	e := Event{
		Kind:     kind,
		Instance: s.instance,
		RunID:    s.runID,
		Server:   s.server,
		Device:   s.device,
		Details:  details,
		Time:     time.Now().UTC(),
		cause:    cause,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	for _, sink := range s.sinks {
		sink.Publish(e)
	}
}

// Status is the body of GET /api/status.
type Status struct {
	Instance string         `json:"instance"`
	RunID    string         `json:"run_id"`
	Version  string         `json:"version,omitempty"`
	Server   ServerStatus   `json:"server"`
	Device   string         `json:"device"`
	Protocol protocol.Stats `json:"protocol"`
	Requests uint64         `json:"requests"`
	Clients  int            `json:"event_clients"`
}

// ServerStatus describes the selected server profile.
type ServerStatus struct {
	Name   string `json:"name"`
	Comm   string `json:"comm"`
	Framer string `json:"framer"`
}

// Status returns a lifecycle snapshot.
func (s *Simulator) Status() Status {
	return Status{
		Instance: s.instance,
		RunID:    s.runID,
		Version:  s.version,
		Server: ServerStatus{
			Name:   s.server,
			Comm:   string(s.resolved.Comm),
			Framer: string(s.resolved.Framer),
		},
		Device:   s.device,
		Protocol: s.protocol.Stats(),
		Requests: s.handler.Stats().Total(),
		Clients:  s.http.Hub().ClientCount(),
	}
}

// Instance returns the instance ID.
func (s *Simulator) Instance() string {
	return s.instance
}

// HTTPAddr returns the HTTP listener address, or "" when not listening.
func (s *Simulator) HTTPAddr() string {
	if a := s.http.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Protocol returns the protocol server handle.
func (s *Simulator) Protocol() *protocol.Handle {
	return s.protocol
}
