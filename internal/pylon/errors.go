package pylon

import (
	"errors"
	"fmt"
)

// Failure kinds of a single exchange attempt. Attempt errors wrap exactly one
// of these, so callers can tell them apart with errors.Is.
var (
	ErrDeviceOpen     = errors.New("pylon: device open failed")
	ErrProbeExhausted = errors.New("pylon: device unresponsive to probe")
	ErrWrite          = errors.New("pylon: command write failed")
	ErrReadTimeout    = errors.New("pylon: end marker not received")
	ErrFrameCorrupt   = errors.New("pylon: response frame corrupt")
)

// CommandError is returned by Execute once the retry budget is spent.
// It unwraps to the error of the last attempt.
type CommandError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("pylon: error sending command %q (%d attempts): %v", e.Command, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
