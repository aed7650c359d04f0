package pylon

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Dialect holds the byte sequences that frame a console reply.
type Dialect struct {
	Begin []byte // follows the command echo
	End   []byte // closes the reply, up to and including the prompt
}

// DefaultDialect returns the framing used by the Pylontech battery console.
func DefaultDialect() Dialect {
	return Dialect{
		Begin: []byte("\n\r@\r\r\n"),
		End:   []byte("\r\n\rCommand completed successfully\r\n\r$$\r\n\rpylon>"),
	}
}

// asciiSpace matches the bytes stripped from the tail of a reply.
const asciiSpace = " \t\n\r\v\f"

// ExtractPayload validates a complete reply for command and returns the text
// between the begin and end markers.
//
// The reply is right-trimmed first; it must then be exactly
// command ++ Begin ++ payload ++ End.
func ExtractPayload(buf []byte, command string, d Dialect) (string, error) {
	resp := bytes.TrimRight(buf, asciiSpace)

	head := make([]byte, 0, len(command)+len(d.Begin))
	head = append(head, command...)
	head = append(head, d.Begin...)

	if len(resp) < len(head)+len(d.End) {
		return "", fmt.Errorf("%w: %d bytes is shorter than the frame envelope", ErrFrameCorrupt, len(resp))
	}
	if !bytes.HasPrefix(resp, head) {
		return "", fmt.Errorf("%w: missing echo %q", ErrFrameCorrupt, command)
	}
	if !bytes.HasSuffix(resp, d.End) {
		return "", fmt.Errorf("%w: missing end marker", ErrFrameCorrupt)
	}

	payload := resp[len(head) : len(resp)-len(d.End)]
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: payload is not valid text", ErrFrameCorrupt)
	}
	return string(payload), nil
}

// Frame builds the reply a well-behaved console sends for command.
func (d Dialect) Frame(command, payload string) []byte {
	out := make([]byte, 0, len(command)+len(d.Begin)+len(payload)+len(d.End))
	out = append(out, command...)
	out = append(out, d.Begin...)
	out = append(out, payload...)
	out = append(out, d.End...)
	return out
}
