package framer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	binaryStart byte = '{'
	binaryEnd   byte = '}'
)

type binaryFramer struct{}

func (binaryFramer) Kind() Kind { return KindBinary }

// ReadFrame reads one '{' ... '}' frame. A doubled brace inside the frame is
// a literal data byte.
func (binaryFramer) ReadFrame(r *bufio.Reader) (Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == binaryStart {
			break
		}
	}

	var body []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, unexpected(err)
		}
		if b == binaryStart || b == binaryEnd {
			next, err := r.Peek(1)
			if err == nil && next[0] == b {
				_, _ = r.ReadByte() //nolint:errcheck // peeked above
				body = append(body, b)
				continue
			}
			if b == binaryStart {
				return Frame{}, fmt.Errorf("%w: unexpected start", ErrInvalidFrame)
			}
			break
		}
		body = append(body, b)
		if len(body) > maxPDUSize+3 {
			return Frame{}, fmt.Errorf("%w: binary frame too long", ErrInvalidFrame)
		}
	}

	if len(body) < 4 {
		return Frame{}, fmt.Errorf("%w: binary frame too short", ErrInvalidFrame)
	}
	data, sum := body[:len(body)-2], binary.BigEndian.Uint16(body[len(body)-2:])
	if crc16(data) != sum {
		return Frame{}, fmt.Errorf("%w: crc mismatch", ErrInvalidFrame)
	}

	return Frame{Unit: data[0], PDU: data[1:]}, nil
}

func (binaryFramer) WriteFrame(w io.Writer, f Frame) error {
	if err := checkPDU(f.PDU); err != nil {
		return err
	}
	data := make([]byte, 0, len(f.PDU)+3)
	data = append(data, f.Unit)
	data = append(data, f.PDU...)
	data = binary.BigEndian.AppendUint16(data, crc16(data))

	out := make([]byte, 0, len(data)+8)
	out = append(out, binaryStart)
	for _, b := range data {
		out = append(out, b)
		if b == binaryStart || b == binaryEnd {
			out = append(out, b)
		}
	}
	out = append(out, binaryEnd)
	_, err := w.Write(out)
	return err
}
