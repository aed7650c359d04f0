//go:build !unix

package pylon

import (
	"errors"
	"io"
)

// RawOpener is only available on unix systems; use SerialOpener elsewhere.
type RawOpener struct{}

// Open implements Opener.
func (RawOpener) Open(path string) (io.ReadWriteCloser, error) {
	return nil, errors.New("raw device access is not supported on this platform; use type serial")
}
