// Package audit records every exchange that crosses the library boundary.
//
// A logical request produces a caller-side pair (the application handing a
// request to the dispatcher and receiving its outcome) and a callee-side
// pair per transport exchange (the dispatcher talking to a remote peer).
// Recorders never return errors: a failure to write an audit record must not
// abort the request it describes.
package audit

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Side identifies which side of the library boundary produced a record.
type Side string

const (
	SideCaller Side = "caller"
	SideCallee Side = "callee"
)

// Direction is the flow of the recorded message relative to the recording side.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Record is one boundary crossing.
type Record struct {
	Timestamp time.Time
	Side      Side
	Peer      string
	Direction Direction
	Summary   string
	Status    string
}

// Recorder receives audit records.
type Recorder interface {
	Record(rec Record)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(Record)

// Record calls f(rec).
func (f RecorderFunc) Record(rec Record) { f(rec) }

// Discard drops every record.
var Discard Recorder = RecorderFunc(func(Record) {})

// Multi fans records out to several recorders in order.
func Multi(recorders ...Recorder) Recorder {
	return RecorderFunc(func(rec Record) {
		for _, r := range recorders {
			if r != nil {
				r.Record(rec)
			}
		}
	})
}

// Memory keeps records in process memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends rec, stamping it if it carries no timestamp.
func (m *Memory) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Filter returns the records matching side, peer and direction. Empty
// arguments match anything.
func (m *Memory) Filter(side Side, peer string, dir Direction) []Record {
	var out []Record
	for _, rec := range m.Records() {
		if side != "" && rec.Side != side {
			continue
		}
		if peer != "" && rec.Peer != peer {
			continue
		}
		if dir != "" && rec.Direction != dir {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Reset drops all records.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}

// Redacted is the placeholder written in place of a secret value.
const Redacted = "***"

var secretKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"code":          true,
	"password":      true,
	"token":         true,
	"authorization": true,
}

// IsSecret reports whether a field with this name must never appear in a summary.
func IsSecret(key string) bool {
	return secretKeys[strings.ToLower(key)]
}

// Summarize renders fields as "key=value" pairs in key order, redacting
// secret values.
func Summarize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if IsSecret(k) && v != "" {
			v = Redacted
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// StatusCode formats an HTTP status for the status column.
func StatusCode(code int) string {
	return strconv.Itoa(code)
}
