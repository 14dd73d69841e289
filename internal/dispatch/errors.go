package dispatch

import "errors"

var (
	// ErrPauseUnknown means the global pause flag could not be read. Nothing
	// is sent in that case.
	ErrPauseUnknown = errors.New("pause state unavailable")
	// ErrNoAccount means no sending account is active. Due leads stay
	// queued untouched.
	ErrNoAccount = errors.New("no sending account available")
)
