package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Coercion selects what happens when a numeric cell does not parse.
type Coercion int

const (
	// CoercionDefault defers to the strategy's DefaultCoercion.
	CoercionDefault Coercion = iota
	// Strict aborts the decode.
	Strict
	// Lenient keeps the raw string in the row.
	Lenient
)

func (c Coercion) String() string {
	switch c {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	default:
		return "default"
	}
}

// ParseCoercion maps a config value to a Coercion. Empty means default.
func ParseCoercion(s string) (Coercion, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return CoercionDefault, nil
	case "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	default:
		return CoercionDefault, fmt.Errorf("table: unknown coercion %q (want strict or lenient)", s)
	}
}

// ErrParse matches every *ParseError.
var ErrParse = errors.New("table: parse failed")

// ParseError carries the raw payload that failed to decode.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table: error parsing report: %v (%q)", e.Err, e.Payload)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Decoder turns report text into rows.
type Decoder struct {
	strategy Strategy
	schema   Schema
	coercion Coercion
	numeric  map[string]bool
	suffixed map[string]bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithCoercion overrides the strategy's numeric policy.
func WithCoercion(c Coercion) Option {
	return func(d *Decoder) {
		if c != CoercionDefault {
			d.coercion = c
		}
	}
}

// New creates a Decoder around strategy.
func New(strategy Strategy, opts ...Option) *Decoder {
	s := strategy.Schema()
	d := &Decoder{
		strategy: strategy,
		schema:   s,
		coercion: strategy.DefaultCoercion(),
		numeric:  toSet(s.Numeric),
		suffixed: toSet(s.Suffixed),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Strategy returns the name of the decoder's strategy.
func (d *Decoder) Strategy() string { return d.strategy.Name() }

// Coercion returns the numeric policy in effect.
func (d *Decoder) Coercion() Coercion { return d.coercion }

// Decode parses payload: one header line followed by zero or more data
// lines. Blank lines are ignored and absent rows dropped.
func (d *Decoder) Decode(payload string) (Report, error) {
	var lines []string
	for _, l := range strings.Split(payload, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, &ParseError{Payload: payload, Err: errors.New("no header line")}
	}

	layout, err := d.strategy.Layout(lines[0])
	if err != nil {
		return nil, &ParseError{Payload: payload, Err: err}
	}
	cols := layout.Columns()
	absent := indexOf(cols, d.schema.AbsentColumn)

	report := Report{}
	for n, line := range lines[1:] {
		cells, err := layout.Cells(line)
		if err != nil {
			return nil, &ParseError{Payload: payload, Err: fmt.Errorf("row %d: %w", n+1, err)}
		}
		if absent >= 0 && absent < len(cells) && cells[absent] == d.schema.AbsentValue {
			continue
		}
		row, err := d.row(cols, cells)
		if err != nil {
			return nil, &ParseError{Payload: payload, Err: fmt.Errorf("row %d: %w", n+1, err)}
		}
		report = append(report, row)
	}
	return report, nil
}

func (d *Decoder) row(cols, cells []string) (Row, error) {
	values := make(map[string]any, len(cols))
	for i, col := range cols {
		raw := ""
		if i < len(cells) {
			raw = cells[i]
		}
		if !d.numeric[col] {
			values[col] = raw
			continue
		}
		n, err := d.toInt(col, raw)
		if err != nil {
			if d.coercion == Strict {
				return Row{}, fmt.Errorf("column %s: %w", col, err)
			}
			values[col] = raw
			continue
		}
		values[col] = n
	}
	return Row{columns: cols, values: values}, nil
}

func (d *Decoder) toInt(col, raw string) (int, error) {
	if d.suffixed[col] && raw != "" {
		if last := raw[len(raw)-1]; last < '0' || last > '9' {
			raw = raw[:len(raw)-1]
		}
	}
	return strconv.Atoi(raw)
}
