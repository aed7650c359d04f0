package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/shaunagostinho/pylonmon/internal/poller"
	"github.com/shaunagostinho/pylonmon/internal/table"
)

// Logger records timestamped battery rows to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file    *os.File
	writer  *csv.Writer
	columns []string
	lastTs  time.Time
	rows    int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~23 days of 3 batteries at 5s)
)

// New creates a new Logger. IntervalMs throttles how often a report is
// written; zero records every poll.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/pylonmon"
	}
	return &Logger{
		dir:      cfg.Path,
		interval: time.Duration(max(0, cfg.IntervalMs)) * time.Millisecond,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Observe implements poller.Observer. Failed polls are not recorded.
func (l *Logger) Observe(r poller.Result) {
	if r.Err != nil {
		return
	}
	l.Record(r.At, r.Report)
}

// Record writes one CSV line per battery if the minimum interval has elapsed.
func (l *Logger) Record(ts time.Time, report table.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(report) == 0 {
		return
	}
	if !l.lastTs.IsZero() && ts.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = ts

	// Open/rotate file if needed; a changed header starts a new file
	cols := report[0].Columns()
	if l.writer == nil || l.rows >= maxRowsPerFile || !slices.Equal(cols, l.columns) {
		if err := l.rotateFile(ts, cols); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	stamp := ts.Format(time.RFC3339Nano)
	for _, r := range report {
		if err := l.writer.Write(buildRow(stamp, l.columns, r)); err != nil {
			log.Printf("[logger] write failed: %v", err)
			return
		}
		l.rows++
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		log.Printf("[logger] flush failed: %v", err)
	}
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time, columns []string) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("pylon_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.columns = columns
	l.rows = 0

	// Write header
	if err := l.writer.Write(append([]string{"timestamp"}, columns...)); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(stamp string, columns []string, r table.Row) []string {
	row := make([]string, 0, len(columns)+1)
	row = append(row, stamp)
	for _, c := range columns {
		row = append(row, r.String(c))
	}
	return row
}
