package protocol

import "errors"

var (
	// ErrStartup is returned by Start when the server fails to prepare or its
	// serve loop exits during the startup grace window.
	ErrStartup = errors.New("protocol: server failed to start")

	// ErrAlreadyStarted is returned by Start on a handle that was started
	// before.
	ErrAlreadyStarted = errors.New("protocol: server already started")

	// ErrShutdownTimeout is returned by Stop when the serve loop does not
	// unwind in time. The loop is abandoned.
	ErrShutdownTimeout = errors.New("protocol: shutdown timed out")

	// ErrExited is recorded when the serve loop returns without an error.
	ErrExited = errors.New("protocol: serve loop returned")
)
