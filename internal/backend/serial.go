package backend

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// SerialServer serves Modbus on a serial line.
type SerialServer struct {
	opts   SerialOptions
	stream stream
	logger Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewSerial constructs the serial backend.
func NewSerial(p Params) (Server, error) {
	var opts SerialOptions
	if err := decodeOptions(p.Profile, &opts); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &SerialServer{
		opts: opts,
		stream: stream{
			framer:  p.Framer,
			handler: p.Handler,
			logger:  p.Logger,
			timeout: seconds(opts.Timeout),
			resync:  true,
		},
		logger: p.Logger,
	}, nil
}

// Prepare opens and configures the port.
func (s *SerialServer) Prepare(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := openSerial(s.opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.opts.Port, err)
	}
	s.port = port
	s.logger.Info("serial port open",
		"port", s.opts.Port,
		"baudrate", s.opts.BaudRate,
		"mode", fmt.Sprintf("%d%s%d", s.opts.ByteSize, s.opts.Parity, s.opts.StopBits),
	)
	return nil
}

// ServeForever serves the port until ctx is cancelled.
func (s *SerialServer) ServeForever(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.close() })
	defer stop()
	defer s.close()

	if err := s.stream.serve(ctx, port, s.opts.Port); err != nil {
		return fmt.Errorf("serial %s: %w", s.opts.Port, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("serial %s: %w", s.opts.Port, io.ErrUnexpectedEOF)
}

func (s *SerialServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
}
