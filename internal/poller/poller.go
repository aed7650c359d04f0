// Package poller drives one console exchange per interval and forwards the
// decoded report to a publisher.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/pylonmon/internal/publish"
	"github.com/shaunagostinho/pylonmon/internal/pylon"
	"github.com/shaunagostinho/pylonmon/internal/table"
)

// Reports are published with QoS 0 and the retain flag set, so a subscriber
// connecting between polls still sees the latest reading.
const (
	QoS    byte = 0
	Retain      = true
)

// Executor runs one command against the device at path.
type Executor interface {
	Execute(path, command string) (string, error)
}

// Decoder turns a payload into rows.
type Decoder interface {
	Decode(payload string) (table.Report, error)
}

// Observer receives every poll result, failed or not.
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

// Observe implements Observer.
func (f ObserverFunc) Observe(r Result) { f(r) }

// Config controls the poll loop.
type Config struct {
	Device   string
	Command  string // default "pwr"
	Topic    string
	Interval time.Duration

	// MaxConsecutiveFailures stops Run after that many failed polls in a
	// row. Zero keeps polling forever.
	MaxConsecutiveFailures int
}

// Result is the outcome of one poll.
type Result struct {
	At       time.Time
	Duration time.Duration
	Report   table.Report
	Payload  []byte // JSON sent to the publisher
	Err      error
}

// Kind classifies r.Err; empty on success.
func (r Result) Kind() string {
	if r.Err == nil {
		return ""
	}
	return ErrorKind(r.Err)
}

// Poller ties the engine, decoder and publisher together.
type Poller struct {
	cfg  Config
	exec Executor
	dec  Decoder
	pub  publish.Publisher

	mu        sync.Mutex
	observers []Observer
}

// New creates a Poller.
func New(cfg Config, exec Executor, dec Decoder, pub publish.Publisher) *Poller {
	if cfg.Command == "" {
		cfg.Command = "pwr"
	}
	return &Poller{cfg: cfg, exec: exec, dec: dec, pub: pub}
}

// AddObserver registers o for every subsequent result.
func (p *Poller) AddObserver(o Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// PollOnce performs a single exchange, decode and publish.
func (p *Poller) PollOnce() Result {
	res := Result{At: time.Now()}
	res.Report, res.Payload, res.Err = p.poll()
	res.Duration = time.Since(res.At)

	p.mu.Lock()
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()
	for _, o := range observers {
		o.Observe(res)
	}
	return res
}

func (p *Poller) poll() (table.Report, []byte, error) {
	text, err := p.exec.Execute(p.cfg.Device, p.cfg.Command)
	if err != nil {
		return nil, nil, err
	}
	report, err := p.dec.Decode(text)
	if err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return report, nil, fmt.Errorf("poller: encoding report: %w", err)
	}
	if p.pub != nil {
		if err := p.pub.Publish(p.cfg.Topic, payload, QoS, Retain); err != nil {
			return report, payload, err
		}
	}
	return report, payload, nil
}

// Run polls until ctx is cancelled, starting each poll one interval after
// the previous one started. A failed poll is logged and its interval skipped.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("[poller] polling %s every %v (command %q)", p.cfg.Device, p.cfg.Interval, p.cfg.Command)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		res := p.PollOnce()
		if res.Err != nil {
			failures++
			log.Printf("[poller] poll failed (%s): %v", res.Kind(), res.Err)
			if p.cfg.MaxConsecutiveFailures > 0 && failures >= p.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("poller: %d consecutive failures: %w", failures, res.Err)
			}
		} else {
			failures = 0
		}

		timer := time.NewTimer(nextDelay(p.cfg.Interval, res.Duration))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func nextDelay(interval, elapsed time.Duration) time.Duration {
	return max(0, interval-elapsed)
}

// ErrorKind names the failure class of err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, pylon.ErrDeviceOpen):
		return "device_open"
	case errors.Is(err, pylon.ErrProbeExhausted):
		return "probe_exhausted"
	case errors.Is(err, pylon.ErrReadTimeout):
		return "read_timeout"
	case errors.Is(err, pylon.ErrFrameCorrupt):
		return "frame_corrupt"
	case errors.Is(err, pylon.ErrWrite):
		return "write"
	case errors.Is(err, table.ErrParse):
		return "parse"
	case errors.Is(err, publish.ErrPublish):
		return "publish"
	default:
		return "other"
	}
}
