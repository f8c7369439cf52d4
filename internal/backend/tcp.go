package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
)

// TCPServer serves Modbus over TCP, optionally wrapped in TLS.
type TCPServer struct {
	address string
	stream  stream
	logger  Logger

	// TLS material, nil for plain tcp.
	tlsConfig *tls.Config
	certFile  string
	keyFile   string

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewTCP constructs the tcp backend.
func NewTCP(p Params) (Server, error) {
	var opts NetOptions
	if err := decodeOptions(p.Profile, &opts); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newTCPServer(p, opts), nil
}

// NewTLS constructs the tls backend. The key pair is loaded by Prepare.
func NewTLS(p Params) (Server, error) {
	var opts TLSOptions
	if err := decodeOptions(p.Profile, &opts); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := newTCPServer(p, opts.NetOptions)
	s.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.ReqCliCert {
		s.tlsConfig.ClientAuth = tls.RequireAnyClientCert
	}
	s.certFile, s.keyFile = opts.CertFile, opts.KeyFile
	return s, nil
}

func newTCPServer(p Params, opts NetOptions) *TCPServer {
	return &TCPServer{
		address: opts.address(),
		stream: stream{
			framer:  p.Framer,
			handler: p.Handler,
			logger:  p.Logger,
			timeout: seconds(opts.Timeout),
		},
		logger: p.Logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Prepare opens the listener.
func (s *TCPServer) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	if s.tlsConfig != nil {
		cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading tls key pair: %w", err)
		}
		s.tlsConfig.Certificates = []tls.Certificate{cert}
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.ln = ln
	s.logger.Info("modbus listener open", "address", ln.Addr().String(), "tls", s.tlsConfig != nil)
	return nil
}

// Addr returns the listener address, or nil before Prepare.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ServeForever accepts connections until ctx is cancelled.
func (s *TCPServer) ServeForever(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.closeAll() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	peer := conn.RemoteAddr().String()
	s.logger.Debug("modbus client connected", "peer", peer)
	if err := s.stream.serve(ctx, conn, peer); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("modbus connection dropped", "peer", peer, "error", err)
		return
	}
	s.logger.Debug("modbus client disconnected", "peer", peer)
}

// track registers conn. It returns false once the server is shutting down.
func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// closeAll closes the listener and every client connection.
func (s *TCPServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
	for c := range s.conns {
		c.Close()
	}
}
