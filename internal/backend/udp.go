package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nerrad567/gray-logic-modsim/internal/framer"
)

// maxDatagram bounds one request datagram.
const maxDatagram = 2048

// UDPServer serves Modbus over UDP, one request per datagram.
type UDPServer struct {
	address string
	framer  framer.Framer
	handler RequestHandler
	logger  Logger

	mu sync.Mutex
	pc net.PacketConn
}

// NewUDP constructs the udp backend.
func NewUDP(p Params) (Server, error) {
	var opts NetOptions
	if err := decodeOptions(p.Profile, &opts); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &UDPServer{
		address: opts.address(),
		framer:  p.Framer,
		handler: p.Handler,
		logger:  p.Logger,
	}, nil
}

// Prepare binds the socket.
func (s *UDPServer) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc != nil {
		return nil
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.pc = pc
	s.logger.Info("modbus listener open", "address", pc.LocalAddr().String(), "transport", "udp")
	return nil
}

// Addr returns the bound address, or nil before Prepare.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

// ServeForever answers datagrams until ctx is cancelled.
func (s *UDPServer) ServeForever(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.close() })
	defer stop()
	defer s.close()

	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading datagram: %w", err)
		}
		out, err := s.answer(buf[:n])
		if err != nil {
			s.logger.Debug("discarding datagram", "peer", peer.String(), "error", err)
			continue
		}
		if out == nil {
			continue
		}
		if _, err := pc.WriteTo(out, peer); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("modbus reply failed", "peer", peer.String(), "error", err)
		}
	}
}

func (s *UDPServer) answer(datagram []byte) ([]byte, error) {
	frame, err := s.framer.ReadFrame(bufio.NewReader(bytes.NewReader(datagram)))
	if err != nil {
		return nil, err
	}
	resp := s.handler.Handle(frame.Unit, frame.PDU)
	if resp == nil {
		return nil, nil
	}
	var out bytes.Buffer
	if err := s.framer.WriteFrame(&out, framer.Frame{TransactionID: frame.TransactionID, Unit: frame.Unit, PDU: resp}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (s *UDPServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
}
