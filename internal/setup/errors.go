package setup

import "errors"

// ErrConfig marks every configuration failure: a missing or unreadable setup
// file, malformed content, an unknown profile name, or an invalid selector.
//
// Other packages wrap it so callers can test any construction failure with
// errors.Is(err, setup.ErrConfig).
var ErrConfig = errors.New("setup: configuration error")
