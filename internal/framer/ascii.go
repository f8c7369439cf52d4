package framer

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	asciiStart = ':'
	asciiEnd   = "\r\n"

	// maxASCIILine bounds a line: start, hex of unit+PDU+LRC, CRLF.
	maxASCIILine = 1 + 2*(maxPDUSize+2) + 2
)

type asciiFramer struct{}

func (asciiFramer) Kind() Kind { return KindASCII }

func (asciiFramer) ReadFrame(r *bufio.Reader) (Frame, error) {
	// Skip noise until a start character.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == asciiStart {
			break
		}
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return Frame{}, unexpected(err)
	}
	if len(line) > maxASCIILine || !strings.HasSuffix(line, asciiEnd) {
		return Frame{}, fmt.Errorf("%w: bad ascii line", ErrInvalidFrame)
	}

	raw, err := hex.DecodeString(strings.TrimSuffix(line, asciiEnd))
	if err != nil || len(raw) < 3 {
		return Frame{}, fmt.Errorf("%w: bad ascii payload", ErrInvalidFrame)
	}

	body, sum := raw[:len(raw)-1], raw[len(raw)-1]
	if lrc(body) != sum {
		return Frame{}, fmt.Errorf("%w: lrc mismatch", ErrInvalidFrame)
	}

	return Frame{Unit: body[0], PDU: body[1:]}, nil
}

func (asciiFramer) WriteFrame(w io.Writer, f Frame) error {
	if err := checkPDU(f.PDU); err != nil {
		return err
	}
	body := make([]byte, 0, len(f.PDU)+2)
	body = append(body, f.Unit)
	body = append(body, f.PDU...)
	body = append(body, lrc(body))

	_, err := io.WriteString(w, string(asciiStart)+strings.ToUpper(hex.EncodeToString(body))+asciiEnd)
	return err
}
