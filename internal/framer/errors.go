package framer

import "errors"

var (
	// ErrInvalidFrame is returned when a frame fails its length or checksum check.
	ErrInvalidFrame = errors.New("framer: invalid frame")

	// ErrUnsupportedFunction is returned by length-delimited framers (rtu) when
	// the request length cannot be derived from the function code.
	ErrUnsupportedFunction = errors.New("framer: unsupported function code")
)
