package publish

import (
	"errors"
	"fmt"
	"log"
)

// Publisher is a telemetry sink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
}

// ErrPublish matches every *Error.
var ErrPublish = errors.New("publish: sink rejected payload")

// Error reports a failed publish.
type Error struct {
	Topic string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish: error sending data to %q: %v", e.Topic, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrPublish }

// Log is a dry-run sink that writes every payload to the process log.
type Log struct{}

// Publish implements Publisher.
func (Log) Publish(topic string, payload []byte, qos byte, retain bool) error {
	log.Printf("[publish] topic=%s qos=%d retain=%v %s", topic, qos, retain, payload)
	return nil
}
