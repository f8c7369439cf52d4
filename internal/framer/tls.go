package framer

import (
	"bufio"
	"io"
)

type tlsFramer struct{}

func (tlsFramer) Kind() Kind { return KindTLS }

// ReadFrame reads one PDU. The TLS framing carries no length, so the pending
// bytes of one read are taken as the whole PDU; TLS delivers one record per
// request.
func (tlsFramer) ReadFrame(r *bufio.Reader) (Frame, error) {
	if _, err := r.Peek(1); err != nil {
		return Frame{}, err
	}
	n := min(r.Buffered(), maxPDUSize)
	pdu := make([]byte, n)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return Frame{}, unexpected(err)
	}
	return Frame{PDU: pdu}, nil
}

func (tlsFramer) WriteFrame(w io.Writer, f Frame) error {
	if err := checkPDU(f.PDU); err != nil {
		return err
	}
	_, err := w.Write(f.PDU)
	return err
}
