package table

import (
	"fmt"
	"log"
	"slices"
	"strings"
)

// Strategy turns the header line into a Layout for the data lines.
type Strategy interface {
	Name() string
	Schema() Schema
	// DefaultCoercion is the numeric policy the strategy pairs with.
	DefaultCoercion() Coercion
	Layout(header string) (Layout, error)
}

// Layout splits data lines into cells aligned with Columns.
//
// A row whose absent column holds the schema's absent value may come back
// with any number of cells beyond that column; it is dropped by the decoder.
type Layout interface {
	Columns() []string
	Cells(line string) ([]string, error)
}

// ParseStrategy returns the strategy registered under name.
func ParseStrategy(name string, s Schema) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "tokens":
		return Tokens(s), nil
	case "columns":
		return Columns(s), nil
	default:
		return nil, fmt.Errorf("table: unknown strategy %q (want tokens or columns)", name)
	}
}

// ---- tokens ----

// Tokens splits lines on whitespace and enforces the schema's header
// exactly. The split column's second token is merged back into it.
func Tokens(s Schema) Strategy { return tokenStrategy{schema: s} }

type tokenStrategy struct{ schema Schema }

func (tokenStrategy) Name() string { return "tokens" }
func (t tokenStrategy) Schema() Schema { return t.schema }
func (tokenStrategy) DefaultCoercion() Coercion { return Strict }

func (t tokenStrategy) Layout(header string) (Layout, error) {
	cols := strings.Fields(header)
	if !slices.Equal(cols, t.schema.Columns) {
		return nil, fmt.Errorf("table columns different than expected: got %v", cols)
	}
	return &tokenLayout{
		columns: cols,
		absent:  indexOf(cols, t.schema.AbsentColumn),
		value:   t.schema.AbsentValue,
		split:   indexOf(cols, t.schema.SplitColumn),
	}, nil
}

type tokenLayout struct {
	columns []string
	absent  int
	value   string
	split   int
}

func (l *tokenLayout) Columns() []string { return l.columns }

func (l *tokenLayout) Cells(line string) ([]string, error) {
	cells := strings.Fields(line)

	// absent slots print a single "-" where the split column would be
	if l.absent >= 0 && l.absent < len(cells) && cells[l.absent] == l.value {
		return cells, nil
	}

	if l.split >= 0 && len(cells) > l.split+1 {
		merged := cells[l.split] + " " + cells[l.split+1]
		cells = append(cells[:l.split+1], cells[l.split+2:]...)
		cells[l.split] = merged
	}
	if len(cells) != len(l.columns) {
		return nil, fmt.Errorf("table row has %d items, want %d", len(cells), len(l.columns))
	}
	return cells, nil
}

// ---- columns ----

// Columns slices each line at the byte offsets where header names start.
// A boundary that lands inside a token moves right to the end of it, so
// values wider than their header or containing spaces stay in one cell.
// Header names missing from the schema are logged, not rejected.
func Columns(s Schema) Strategy { return columnStrategy{schema: s} }

type columnStrategy struct{ schema Schema }

func (columnStrategy) Name() string { return "columns" }
func (c columnStrategy) Schema() Schema { return c.schema }
func (columnStrategy) DefaultCoercion() Coercion { return Lenient }

func (c columnStrategy) Layout(header string) (Layout, error) {
	starts, names := headerSpans(header)
	if len(names) == 0 {
		return nil, fmt.Errorf("table header is empty")
	}
	for _, n := range names {
		if !c.schema.has(n) {
			log.Printf("[table] unrecognized column %q", n)
		}
	}
	return &columnLayout{columns: names, starts: starts}, nil
}

type columnLayout struct {
	columns []string
	starts  []int
}

func (l *columnLayout) Columns() []string { return l.columns }

func (l *columnLayout) Cells(line string) ([]string, error) {
	cells := make([]string, len(l.starts))
	lo := snapBoundary(line, l.starts[0])
	for i := range l.starts {
		hi := len(line)
		if i+1 < len(l.starts) {
			hi = snapBoundary(line, l.starts[i+1])
		}
		if lo < hi {
			cells[i] = strings.TrimSpace(line[lo:hi])
		}
		lo = max(lo, hi)
	}
	return cells, nil
}

// headerSpans returns the start offset and text of each header token.
func headerSpans(header string) ([]int, []string) {
	var starts []int
	var names []string
	for i := 0; i < len(header); {
		if isSpace(header[i]) {
			i++
			continue
		}
		j := i
		for j < len(header) && !isSpace(header[j]) {
			j++
		}
		starts = append(starts, i)
		names = append(names, header[i:j])
		i = j
	}
	return starts, names
}

// snapBoundary moves offset b past any token that straddles it.
func snapBoundary(line string, b int) int {
	if b >= len(line) {
		return len(line)
	}
	for b > 0 && b < len(line) && !isSpace(line[b-1]) && !isSpace(line[b]) {
		b++
	}
	return b
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}
