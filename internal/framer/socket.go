package framer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// mbapHeaderSize is the size of the Modbus application protocol header.
const mbapHeaderSize = 7

type socketFramer struct{}

func (socketFramer) Kind() Kind { return KindSocket }

func (socketFramer) ReadFrame(r *bufio.Reader) (Frame, error) {
	var header [mbapHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	protocol := binary.BigEndian.Uint16(header[2:4])
	if protocol != 0 {
		return Frame{}, fmt.Errorf("%w: protocol id %d", ErrInvalidFrame, protocol)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length-1 > maxPDUSize {
		return Frame{}, fmt.Errorf("%w: mbap length %d", ErrInvalidFrame, length)
	}

	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return Frame{}, unexpected(err)
	}

	return Frame{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		Unit:          header[6],
		PDU:           pdu,
	}, nil
}

func (socketFramer) WriteFrame(w io.Writer, f Frame) error {
	if err := checkPDU(f.PDU); err != nil {
		return err
	}
	buf := make([]byte, mbapHeaderSize, mbapHeaderSize+len(f.PDU))
	binary.BigEndian.PutUint16(buf[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.PDU)+1)) //nolint:gosec // bounded by checkPDU
	buf[6] = f.Unit
	buf = append(buf, f.PDU...)
	_, err := w.Write(buf)
	return err
}

// unexpected turns a clean EOF inside a frame into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
