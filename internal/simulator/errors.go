package simulator

import "errors"

var (
	// ErrDependencyMissing is returned by New when the static asset root
	// cannot be opened.
	ErrDependencyMissing = errors.New("simulator: dependency missing")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("simulator: already running")

	// ErrStopped is returned by Run after Stop.
	ErrStopped = errors.New("simulator: stopped")

	// ErrBadRequest wraps API field errors.
	ErrBadRequest = errors.New("simulator: bad request")
)
