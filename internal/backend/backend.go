package backend

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-modsim/internal/framer"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

// Comm is the transport of a protocol server.
type Comm string

// Supported transports.
const (
	CommSerial Comm = "serial"
	CommTCP    Comm = "tcp"
	CommTLS    Comm = "tls"
	CommUDP    Comm = "udp"
)

// FramerKind is the framing of a protocol server.
type FramerKind = framer.Kind

var (
	comms   = []Comm{CommSerial, CommTCP, CommTLS, CommUDP}
	framers = []FramerKind{framer.KindASCII, framer.KindBinary, framer.KindRTU, framer.KindSocket, framer.KindTLS}
)

// ParseComm validates a comm tag.
func ParseComm(s string) (Comm, error) {
	if c := Comm(s); slices.Contains(comms, c) {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q (known: %v)", ErrUnknownComm, s, comms)
}

// ParseFramer validates a framer tag.
func ParseFramer(s string) (FramerKind, error) {
	if k := FramerKind(s); slices.Contains(framers, k) {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q (known: %v)", ErrUnknownFramer, s, framers)
}

// RequestHandler executes one request PDU for a unit and returns the
// response PDU, or nil to send nothing.
type RequestHandler interface {
	Handle(unit byte, pdu []byte) []byte
}

// Server is a protocol server. ServeForever blocks until ctx is cancelled or
// a fatal error occurs.
type Server interface {
	ServeForever(ctx context.Context) error
}

// Preparer is implemented by servers that can open their transport before
// serving.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Logger defines the logging interface for the backends.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Params are the inputs of a Constructor.
type Params struct {
	Profile setup.ServerProfile
	Framer  framer.Framer
	Handler RequestHandler
	Logger  Logger
}

// Constructor builds a server from a profile. It must not open any resource.
type Constructor func(Params) (Server, error)

// Registry maps comm tags to constructors.
type Registry struct {
	backends map[Comm]Constructor
}

// DefaultRegistry returns the production backends.
func DefaultRegistry() *Registry {
	return NewRegistry(map[Comm]Constructor{
		CommSerial: NewSerial,
		CommTCP:    NewTCP,
		CommTLS:    NewTLS,
		CommUDP:    NewUDP,
	})
}

// NewRegistry returns a registry with the given backends.
func NewRegistry(backends map[Comm]Constructor) *Registry {
	return &Registry{backends: maps.Clone(backends)}
}

// Resolved is a validated server profile.
type Resolved struct {
	Comm   Comm
	Framer FramerKind

	construct Constructor
}

// Resolve validates the comm and framer tags of a profile.
//
// Returns:
//   - Resolved: The resolved tags
//   - error: ErrUnknownComm or ErrUnknownFramer, both wrapping setup.ErrConfig
func (r *Registry) Resolve(p setup.ServerProfile) (Resolved, error) {
	comm, err := ParseComm(p.Comm)
	if err != nil {
		return Resolved{}, fmt.Errorf("server %q: %w", p.Name, err)
	}
	construct, ok := r.backends[comm]
	if !ok {
		return Resolved{}, fmt.Errorf("server %q: %w: %q has no backend", p.Name, ErrUnknownComm, comm)
	}
	kind, err := ParseFramer(p.Framer)
	if err != nil {
		return Resolved{}, fmt.Errorf("server %q: %w", p.Name, err)
	}
	return Resolved{Comm: comm, Framer: kind, construct: construct}, nil
}

// Build resolves a profile and constructs its server.
//
// Parameters:
//   - p: Server profile from the setup document
//   - handler: Receives every decoded request
//   - logger: Backend logger, may be nil
//
// Returns:
//   - Server: Constructed server, not yet listening
//   - error: Wrapping setup.ErrConfig for profile errors
func (r *Registry) Build(p setup.ServerProfile, handler RequestHandler, logger Logger) (Server, error) {
	res, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := framer.New(res.Framer)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w: %w", p.Name, ErrUnknownFramer, err)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	srv, err := res.construct(Params{Profile: p, Framer: f, Handler: handler, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", p.Name, err)
	}
	return srv, nil
}
