//go:build unix

package pylon

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// RawOpener opens the path directly with O_NONBLOCK. Line settings are left
// as configured on the device (e.g. by stty or a udev rule).
type RawOpener struct{}

// Open implements Opener.
func (RawOpener) Open(path string) (io.ReadWriteCloser, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &rawDevice{fd: fd, path: path}, nil
}

type rawDevice struct {
	fd   int
	path string
}

func (d *rawDevice) Read(p []byte) (int, error) {
	n, err := unix.Read(d.fd, p)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", d.path, err)
	}
	return n, nil
}

func (d *rawDevice) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(d.fd, p[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("write %s: %w", d.path, err)
		}
		written += n
	}
	return written, nil
}

func (d *rawDevice) Close() error {
	return unix.Close(d.fd)
}
