package backend

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

var (
	// ErrUnknownComm is returned for a comm tag with no registered backend.
	ErrUnknownComm = fmt.Errorf("%w: unknown comm", setup.ErrConfig)

	// ErrUnknownFramer is returned for an unknown framer tag.
	ErrUnknownFramer = fmt.Errorf("%w: unknown framer", setup.ErrConfig)

	// ErrInvalidOptions is returned when transport options fail to decode or
	// validate.
	ErrInvalidOptions = fmt.Errorf("%w: invalid server options", setup.ErrConfig)

	// ErrSerialUnsupported is returned by the serial backend on platforms
	// without termios support.
	ErrSerialUnsupported = errors.New("backend: serial ports are not supported on this platform")
)
