package pylon

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Opener acquires a fresh device handle for one exchange.
//
// A handle's Read must not block indefinitely: when no data is pending it
// returns (0, nil) or an error, and the engine treats both as an empty read.
type Opener interface {
	Open(path string) (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a plain function to Opener.
type OpenerFunc func(path string) (io.ReadWriteCloser, error)

func (f OpenerFunc) Open(path string) (io.ReadWriteCloser, error) { return f(path) }

// SerialOpener opens the path as a serial port with a short read timeout, so
// each Read behaves like a bounded non-blocking read.
type SerialOpener struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Open implements Opener.
func (o SerialOpener) Open(path string) (io.ReadWriteCloser, error) {
	baud := o.BaudRate
	if baud == 0 {
		baud = 115200
	}
	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}
