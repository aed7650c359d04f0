package pylon

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DemoOpener simulates a battery console for development without hardware.
// It answers probes with a prompt, the pwr command with a framed table, and
// dribbles output out a few bytes per read like a slow serial line.
type DemoOpener struct {
	Slots     int // table rows, populated and absent
	Populated int // leading rows that report a battery
	Chunk     int // max bytes returned per read

	mu sync.Mutex
	t  float64 // virtual time accumulator
}

// NewDemoOpener returns a console with three batteries in a five slot rack.
func NewDemoOpener() *DemoOpener {
	return &DemoOpener{Slots: 5, Populated: 3, Chunk: 64}
}

// Open implements Opener.
func (o *DemoOpener) Open(path string) (io.ReadWriteCloser, error) {
	return &demoConsole{owner: o, dialect: DefaultDialect()}, nil
}

var demoColumns = []struct {
	name  string
	width int
}{
	{"Power", 6}, {"Volt", 7}, {"Curr", 7}, {"Tempr", 7}, {"Tlow", 7}, {"Thigh", 7},
	{"Vlow", 7}, {"Vhigh", 7}, {"Base.St", 9}, {"Volt.St", 9}, {"Curr.St", 9}, {"Temp.St", 9},
	{"Coulomb", 9}, {"Time", 21}, {"B.V.St", 9}, {"B.T.St", 9}, {"MosTempr", 9}, {"M.T.St", 9},
}

func (o *DemoOpener) powerTable() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.t += 0.1
	now := time.Now().Format("2006-01-02 15:04:05")

	var b strings.Builder
	cells := make([]string, len(demoColumns))
	for i, c := range demoColumns {
		cells[i] = c.name
	}
	writeDemoLine(&b, cells)

	for slot := 1; slot <= o.Slots; slot++ {
		b.WriteString("\r\n")
		if slot > o.Populated {
			for i := range cells {
				cells[i] = "-"
			}
			cells[0] = fmt.Sprint(slot)
			cells[8] = "Absent"
			writeDemoLine(&b, cells)
			continue
		}

		phase := o.t + float64(slot)
		curr := int(-1500 * math.Sin(phase*0.2))
		volt := 49800 + int(300*math.Sin(phase*0.05)) + rand.Intn(20)
		tempr := 23000 + rand.Intn(800)
		state := "Idle"
		switch {
		case curr > 100:
			state = "Charge"
		case curr < -100:
			state = "Dischg"
		}
		cells = append(cells[:0],
			fmt.Sprint(slot),
			fmt.Sprint(volt),
			fmt.Sprint(curr),
			fmt.Sprint(tempr),
			fmt.Sprint(tempr-1000),
			fmt.Sprint(tempr+200),
			fmt.Sprint(volt/15-4),
			fmt.Sprint(volt/15+4),
			state, "Normal", "Normal", "Normal",
			fmt.Sprintf("%d%%", 60+int(30*math.Sin(phase*0.01))),
			now,
			"Normal", "Normal",
			fmt.Sprint(tempr+1000),
			"Normal",
		)
		writeDemoLine(&b, cells)
	}
	return b.String()
}

func writeDemoLine(b *strings.Builder, cells []string) {
	for i, c := range demoColumns {
		fmt.Fprintf(b, "%-*s", c.width, cells[i])
	}
}

type demoConsole struct {
	owner   *DemoOpener
	dialect Dialect

	mu      sync.Mutex
	line    []byte
	pending []byte
	closed  bool
}

var errDemoClosed = errors.New("demo console closed")

func (c *demoConsole) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errDemoClosed
	}

	for _, b := range p {
		if b != '\n' {
			c.line = append(c.line, b)
			continue
		}
		cmd := strings.TrimSpace(string(c.line))
		c.line = c.line[:0]
		switch cmd {
		case "":
			c.pending = append(c.pending, "\n\rpylon>"...)
		case "pwr":
			c.pending = append(c.pending, c.dialect.Frame(cmd, c.owner.powerTable())...)
		default:
			// the console does not confirm unknown commands
			c.pending = append(c.pending, cmd...)
			c.pending = append(c.pending, c.dialect.Begin...)
			c.pending = append(c.pending, "Unknown command '"+cmd+"'\r\n\r$$\r\n\rpylon>"...)
		}
	}
	return len(p), nil
}

func (c *demoConsole) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errDemoClosed
	}
	if len(c.pending) == 0 {
		return 0, nil
	}
	limit := len(p)
	if c.owner.Chunk > 0 && c.owner.Chunk < limit {
		limit = c.owner.Chunk
	}
	n := copy(p[:limit], c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *demoConsole) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
