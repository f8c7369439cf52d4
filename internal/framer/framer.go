package framer

import (
	"bufio"
	"fmt"
	"io"
)

// Kind names a framing.
type Kind string

const (
	KindASCII  Kind = "ascii"
	KindBinary Kind = "binary"
	KindRTU    Kind = "rtu"
	KindSocket Kind = "socket"
	KindTLS    Kind = "tls"
)

// maxPDUSize is the largest PDU Modbus allows (253 bytes).
const maxPDUSize = 253

// Frame is one decoded application data unit.
type Frame struct {
	// TransactionID echoes the MBAP transaction identifier (socket framing only).
	TransactionID uint16

	// Unit is the addressed unit (slave) identifier.
	Unit byte

	// PDU is the function code followed by the request or response data.
	PDU []byte
}

// Framer reads request frames and writes response frames.
type Framer interface {
	// Kind returns the framing name.
	Kind() Kind

	// ReadFrame reads the next frame. It returns io.EOF when the stream ends
	// cleanly between frames, and ErrInvalidFrame for corrupt input.
	ReadFrame(r *bufio.Reader) (Frame, error)

	// WriteFrame encodes f onto w.
	WriteFrame(w io.Writer, f Frame) error
}

// New returns the framer for kind.
func New(kind Kind) (Framer, error) {
	switch kind {
	case KindASCII:
		return asciiFramer{}, nil
	case KindBinary:
		return binaryFramer{}, nil
	case KindRTU:
		return rtuFramer{}, nil
	case KindSocket:
		return socketFramer{}, nil
	case KindTLS:
		return tlsFramer{}, nil
	default:
		return nil, fmt.Errorf("framer: unknown kind %q", kind)
	}
}

// checkPDU rejects empty and oversized PDUs.
func checkPDU(pdu []byte) error {
	if len(pdu) == 0 || len(pdu) > maxPDUSize {
		return fmt.Errorf("%w: pdu length %d", ErrInvalidFrame, len(pdu))
	}
	return nil
}
