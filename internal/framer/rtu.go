package framer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

type rtuFramer struct{}

func (rtuFramer) Kind() Kind { return KindRTU }

// ReadFrame reads one RTU request. RTU has no delimiter on a byte stream, so
// the frame length is derived from the function code of the request.
func (rtuFramer) ReadFrame(r *bufio.Reader) (Frame, error) {
	head, err := r.Peek(2)
	if err != nil {
		if len(head) == 0 {
			return Frame{}, err
		}
		return Frame{}, unexpected(err)
	}

	size, err := rtuRequestSize(r, head[1])
	if err != nil {
		// Drop the unit byte so the next read resynchronises.
		_, _ = r.Discard(1) //nolint:errcheck // a byte was peeked above
		return Frame{}, err
	}

	adu := make([]byte, size)
	if _, err := io.ReadFull(r, adu); err != nil {
		return Frame{}, unexpected(err)
	}

	body, sum := adu[:size-2], binary.LittleEndian.Uint16(adu[size-2:])
	if crc16(body) != sum {
		return Frame{}, fmt.Errorf("%w: crc mismatch", ErrInvalidFrame)
	}

	return Frame{Unit: body[0], PDU: body[1:]}, nil
}

func (rtuFramer) WriteFrame(w io.Writer, f Frame) error {
	if err := checkPDU(f.PDU); err != nil {
		return err
	}
	_, err := w.Write(encodeRTU(f))
	return err
}

// encodeRTU builds unit + PDU + CRC.
func encodeRTU(f Frame) []byte {
	buf := make([]byte, 0, len(f.PDU)+3)
	buf = append(buf, f.Unit)
	buf = append(buf, f.PDU...)
	return binary.LittleEndian.AppendUint16(buf, crc16(buf))
}

// rtuRequestSize returns the full ADU size of a request with function code fc,
// peeking further into r for the byte count of variable-length requests.
func rtuRequestSize(r *bufio.Reader, fc byte) (int, error) {
	switch fc {
	case 7, 11, 12, 17:
		return 4, nil
	case 24:
		return 6, nil
	case 1, 2, 3, 4, 5, 6, 8:
		return 8, nil
	case 22:
		return 10, nil
	case 15, 16:
		return variableSize(r, 6, 9)
	case 23:
		return variableSize(r, 10, 13)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedFunction, fc)
	}
}

// variableSize peeks the byte count at offset and adds it to fixed.
func variableSize(r *bufio.Reader, offset, fixed int) (int, error) {
	head, err := r.Peek(offset + 1)
	if err != nil {
		return 0, unexpected(err)
	}
	return fixed + int(head[offset]), nil
}
