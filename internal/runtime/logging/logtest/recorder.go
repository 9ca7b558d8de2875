// Package logtest provides a ServiceLogger that records entries so tests can
// assert on what the relay logged.
package logtest

import (
	"sync"

	"github.com/drblury/protorelay/internal/runtime/logging"
)

// Entry is one recorded log call. Fields include those inherited via With.
type Entry struct {
	Level  string
	Msg    string
	Fields logging.LogFields
	Err    error
}

// Recorder is a concurrency-safe ServiceLogger. Children created with With
// share the parent's entry list.
type Recorder struct {
	sink   *sink
	fields logging.LogFields
}

type sink struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{sink: &sink{}}
}

func (r *Recorder) With(fields logging.LogFields) logging.ServiceLogger {
	return &Recorder{sink: r.sink, fields: merge(r.fields, fields)}
}

func (r *Recorder) Debug(msg string, fields logging.LogFields) { r.record("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields logging.LogFields)  { r.record("info", msg, nil, fields) }
func (r *Recorder) Warn(msg string, fields logging.LogFields)  { r.record("warn", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields logging.LogFields) { r.record("trace", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields logging.LogFields) {
	r.record("error", msg, err, fields)
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := make([]Entry, len(r.sink.entries))
	copy(out, r.sink.entries)
	return out
}

// Find returns the recorded entries with the given level and message.
func (r *Recorder) Find(level, msg string) []Entry {
	var found []Entry
	for _, e := range r.Entries() {
		if e.Level == level && e.Msg == msg {
			found = append(found, e)
		}
	}
	return found
}

// Has reports whether at least one entry matches level and message.
func (r *Recorder) Has(level, msg string) bool {
	return len(r.Find(level, msg)) > 0
}

func (r *Recorder) record(level, msg string, err error, fields logging.LogFields) {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = append(r.sink.entries, Entry{
		Level:  level,
		Msg:    msg,
		Fields: merge(r.fields, fields),
		Err:    err,
	})
}

func merge(base, extra logging.LogFields) logging.LogFields {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(logging.LogFields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
