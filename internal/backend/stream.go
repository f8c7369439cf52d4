package backend

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/framer"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// stream serves requests over one byte stream.
type stream struct {
	framer  framer.Framer
	handler RequestHandler
	logger  Logger

	// timeout bounds each read. Zero waits forever.
	timeout time.Duration

	// resync keeps serving after a corrupt frame or a read timeout, dropping
	// the buffered bytes. Without it the stream ends.
	resync bool
}

// serve runs until rw fails or ctx is cancelled. Closing rw is the caller's
// job.
func (s stream) serve(ctx context.Context, rw io.ReadWriter, peer string) error {
	br := bufio.NewReader(rw)
	dl, _ := rw.(deadliner)
	for {
		if dl != nil && s.timeout > 0 {
			_ = dl.SetReadDeadline(time.Now().Add(s.timeout))
		}
		frame, err := s.framer.ReadFrame(br)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
				return nil
			case s.resync && errors.Is(err, framer.ErrUnsupportedFunction):
				// The framer already skipped the offending byte.
				continue
			case s.resync && (errors.Is(err, framer.ErrInvalidFrame) || errors.Is(err, os.ErrDeadlineExceeded)):
				if br.Buffered() > 0 {
					s.logger.Debug("discarding partial frame", "peer", peer, "bytes", br.Buffered(), "error", err)
				}
				br.Reset(rw)
				continue
			default:
				return err
			}
		}

		resp := s.handler.Handle(frame.Unit, frame.PDU)
		if resp == nil {
			continue
		}
		if err := s.framer.WriteFrame(rw, framer.Frame{
			TransactionID: frame.TransactionID,
			Unit:          frame.Unit,
			PDU:           resp,
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
