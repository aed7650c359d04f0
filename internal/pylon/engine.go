package pylon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

// Config tunes one Engine. Zero durations and counts (other than MaxRetries)
// are replaced with the defaults from DefaultConfig.
type Config struct {
	Opener  Opener
	Dialect Dialect

	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int

	// Probe enables the newline-and-drain resync before each command.
	Probe         bool
	ProbeAttempts int
	ProbePause    time.Duration // between the probe write and the drain
	ProbeBackoff  time.Duration // after a failed probe write
	DrainReads    int

	ReadChunk  int           // bytes per read attempt
	MaxReads   int           // read attempts before ErrReadTimeout
	ReadPause  time.Duration // after an empty or failed read
	RetryPause time.Duration // between exchange attempts
}

// DefaultConfig returns the timing the pylon console is known to tolerate.
func DefaultConfig() Config {
	return Config{
		Opener:        RawOpener{},
		Dialect:       DefaultDialect(),
		MaxRetries:    1,
		Probe:         true,
		ProbeAttempts: 3,
		ProbePause:    10 * time.Millisecond,
		ProbeBackoff:  500 * time.Millisecond,
		DrainReads:    8,
		ReadChunk:     256,
		MaxReads:      1000,
		ReadPause:     20 * time.Millisecond,
		RetryPause:    100 * time.Millisecond,
	}
}

// Engine runs command/response exchanges against a console device.
// It keeps no state between calls; every attempt owns its own handle.
type Engine struct {
	cfg   Config
	sleep func(time.Duration)
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Opener == nil {
		return nil, errors.New("pylon: opener required")
	}
	if len(cfg.Dialect.End) == 0 {
		return nil, errors.New("pylon: dialect end marker required")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("pylon: max retries must be >= 0")
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = def.ProbeAttempts
	}
	if cfg.ProbePause <= 0 {
		cfg.ProbePause = def.ProbePause
	}
	if cfg.ProbeBackoff <= 0 {
		cfg.ProbeBackoff = def.ProbeBackoff
	}
	if cfg.DrainReads <= 0 {
		cfg.DrainReads = def.DrainReads
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = def.ReadChunk
	}
	if cfg.MaxReads <= 0 {
		cfg.MaxReads = def.MaxReads
	}
	if cfg.ReadPause <= 0 {
		cfg.ReadPause = def.ReadPause
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = def.RetryPause
	}
	return &Engine{cfg: cfg, sleep: time.Sleep}, nil
}

// Execute sends command to the device at path and returns the reply payload.
//
// Each attempt opens the device, optionally probes it, sends the command and
// reads until the end marker. A failed attempt is retried up to MaxRetries
// times; the final failure is a *CommandError.
func (e *Engine) Execute(path, command string) (string, error) {
	if err := checkCommand(command); err != nil {
		return "", err
	}

	attempts := e.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retryLeft := attempt < attempts
		payload, err := e.attempt(path, command, retryLeft)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if retryLeft {
			log.Printf("[pylon] error sending command %q: %v (%d retries remaining)", command, err, attempts-attempt)
			e.sleep(e.cfg.RetryPause)
		}
	}
	return "", &CommandError{Command: command, Attempts: attempts, Err: lastErr}
}

// attempt runs one exchange on a freshly opened handle. The handle is always
// closed; when nudge is set a failed exchange first writes a bare newline to
// shake the prompt loose for the next attempt.
func (e *Engine) attempt(path, command string, nudge bool) (string, error) {
	dev, err := e.cfg.Opener.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	defer func() { _ = dev.Close() }()

	payload, err := e.exchange(dev, command)
	if err != nil && nudge {
		_, _ = dev.Write([]byte{'\n'})
	}
	return payload, err
}

func (e *Engine) exchange(dev io.ReadWriter, command string) (string, error) {
	if e.cfg.Probe {
		if err := e.probe(dev); err != nil {
			return "", err
		}
	}

	if _, err := dev.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	resp, err := e.accumulate(dev)
	if err != nil {
		return "", err
	}
	return ExtractPayload(resp, command, e.cfg.Dialect)
}

// probe writes a bare newline and drains whatever the console prints back.
// The drain result is not inspected; only a failing write counts against
// ProbeAttempts.
func (e *Engine) probe(dev io.ReadWriter) error {
	var lastErr error
	for i := 0; i < e.cfg.ProbeAttempts; i++ {
		if _, err := dev.Write([]byte{'\n'}); err != nil {
			lastErr = err
			e.sleep(e.cfg.ProbeBackoff)
			continue
		}
		e.sleep(e.cfg.ProbePause)
		e.drain(dev)
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrProbeExhausted, e.cfg.ProbeAttempts, lastErr)
}

// drain reads and discards pending output until a read comes back empty.
func (e *Engine) drain(dev io.Reader) {
	buf := make([]byte, e.cfg.ReadChunk)
	for i := 0; i < e.cfg.DrainReads; i++ {
		n, err := dev.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// accumulate reads until the end marker shows up in the response buffer.
// Every read counts towards MaxReads, whether it returned data or not.
func (e *Engine) accumulate(dev io.Reader) ([]byte, error) {
	end := e.cfg.Dialect.End
	chunk := make([]byte, e.cfg.ReadChunk)
	var resp []byte

	for i := 0; i < e.cfg.MaxReads; i++ {
		n, err := dev.Read(chunk)
		if n > 0 {
			// only the new bytes plus a marker-sized overlap can complete the match
			from := max(0, len(resp)-len(end)+1)
			resp = append(resp, chunk[:n]...)
			if bytes.Contains(resp[from:], end) {
				return resp, nil
			}
		}
		if n == 0 || err != nil {
			e.sleep(e.cfg.ReadPause)
		}
	}
	return nil, fmt.Errorf("%w after %d reads (%d bytes buffered)", ErrReadTimeout, e.cfg.MaxReads, len(resp))
}

func checkCommand(command string) error {
	if command == "" {
		return errors.New("pylon: empty command")
	}
	if strings.IndexFunc(command, func(r rune) bool { return r <= ' ' || r >= 0x7F }) >= 0 {
		return fmt.Errorf("pylon: command %q contains whitespace or control bytes", command)
	}
	return nil
}
