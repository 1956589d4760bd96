package runtime

import (
	"errors"
	"maps"
	"sync"

	"github.com/drblury/bulkbus/internal/runtime/logging"
)

type loggedEntry struct {
	level  string
	msg    string
	err    error
	fields logging.LogFields
}

// testLogger records every entry, including those of derived loggers.
type testLogger struct {
	mu      *sync.Mutex
	entries *[]loggedEntry
	fields  logging.LogFields
}

func newTestLogger() *testLogger {
	return &testLogger{mu: &sync.Mutex{}, entries: &[]loggedEntry{}}
}

func (l *testLogger) With(fields logging.LogFields) logging.ServiceLogger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = logging.LogFields{}
	}
	maps.Copy(merged, fields)
	return &testLogger{mu: l.mu, entries: l.entries, fields: merged}
}

func (l *testLogger) record(level, msg string, err error, fields logging.LogFields) {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = logging.LogFields{}
	}
	maps.Copy(merged, fields)

	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, loggedEntry{level: level, msg: msg, err: err, fields: merged})
}

func (l *testLogger) Debug(msg string, fields logging.LogFields) { l.record("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields logging.LogFields)  { l.record("info", msg, nil, fields) }
func (l *testLogger) Trace(msg string, fields logging.LogFields) { l.record("trace", msg, nil, fields) }
func (l *testLogger) Error(msg string, err error, fields logging.LogFields) {
	l.record("error", msg, err, fields)
}

// errorsLogged returns the error entries recorded so far.
func (l *testLogger) errorsLogged() []loggedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loggedEntry
	for _, e := range *l.entries {
		if e.level == "error" {
			out = append(out, e)
		}
	}
	return out
}

// memStore is an in-memory store.Store with injectable failures.
type memStore struct {
	mu        sync.Mutex
	items     []any
	closed    int
	appendErr error
	readErr   error
}

func (s *memStore) Append(item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.items = append(s.items, item)
	return nil
}

func (s *memStore) ReadAll() ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memStore) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memStore) setReadErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

var errBoom = errors.New("boom")
