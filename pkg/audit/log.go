package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tsapi/pkg/logging"
)

// Header is the first line of every daily log file.
var Header = []string{"timestamp", "side", "peer_name", "direction", "payload_summary", "status"}

var fieldEscaper = strings.NewReplacer(",", ";", "\r\n", " ", "\n", " ", "\r", " ")

// Log appends records to one CSV file per calendar day, named MM-DD.csv,
// inside a directory.
type Log struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	day     string
	file    *os.File
	writer  *csv.Writer
	closed  bool
	failing bool
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithClock overrides the clock used to stamp records and pick the file.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// NewLog creates dir if needed and returns a Log writing into it.
func NewLog(dir string, opts ...LogOption) (*Log, error) {
	if dir == "" {
		return nil, errors.New("audit log directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	l := &Log{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// FileFor returns the path of the file that holds records written at t.
func (l *Log) FileFor(t time.Time) string {
	return filepath.Join(l.dir, t.Format("01-02")+".csv")
}

// Record appends rec to the current day's file. Write failures are reported
// through the process logger and otherwise swallowed.
func (l *Log) Record(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Stamped under the lock so rows in a file stay in time order.
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	if l.closed {
		return
	}

	if err := l.write(rec); err != nil {
		// Log once per failure streak so a full disk doesn't flood stderr.
		if !l.failing {
			logging.Error("Audit", err, "failed to write audit record for peer %s", rec.Peer)
		}
		l.failing = true
		return
	}
	if l.failing {
		logging.Info("Audit", "audit log writes recovered in %s", l.dir)
	}
	l.failing = false
}

func (l *Log) write(rec Record) error {
	if err := l.rotate(rec.Timestamp); err != nil {
		return err
	}

	line := []string{
		rec.Timestamp.Format(time.RFC3339Nano),
		escape(string(rec.Side)),
		escape(rec.Peer),
		escape(string(rec.Direction)),
		escape(rec.Summary),
		escape(rec.Status),
	}
	if err := l.writer.Write(line); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

// rotate makes sure the open file matches the day of t.
func (l *Log) rotate(t time.Time) error {
	day := t.Format("01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	if l.file != nil {
		l.writer.Flush()
		_ = l.file.Close()
		l.file, l.writer = nil, nil
	}

	path := l.FileFor(t)
	// #nosec G304 -- path is derived from the configured directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("failed to write audit log header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return fmt.Errorf("failed to write audit log header: %w", err)
		}
	}

	l.file, l.writer, l.day = f, w, day
	return nil
}

// Close flushes and closes the current file. Later records are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	err := l.file.Close()
	l.file, l.writer = nil, nil
	return err
}

func escape(s string) string {
	return fieldEscaper.Replace(s)
}
