package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "queue"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	require.Len(t, base.entries, 4)
	assert.Equal(t, "debug", base.entries[0].level)
	assert.Equal(t, "queue", base.entries[0].fields["component"])
	assert.Nil(t, base.entries[1].fields)
	assert.EqualError(t, base.entries[3].err, "boom")
}

func TestWatermillServiceLoggerWith(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	assert.Same(t, logger, logger.With(nil), "empty fields must not allocate a child")

	child := logger.With(LogFields{"queue": "jobs"})
	child.Info("child", nil)

	require.Len(t, base.entries, 1)
	assert.Equal(t, "jobs", base.entries[0].fields["queue"])
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", nil)

	require.Len(t, base.entries, 5)
	assert.Equal(t, "v", base.entries[0].fields["k"])
	assert.Equal(t, "yes", base.entries[4].fields["child"])
}

func TestNewSlogServiceLoggerWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	logger.Info("hello", LogFields{"topic": "woot"})

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "topic=woot")
}

func TestOrNop(t *testing.T) {
	nop := OrNop(nil)
	require.NotNil(t, nop)
	nop.Error("ignored", errors.New("boom"), nil)

	base := &recordingServiceLogger{}
	assert.Same(t, base, OrNop(base))
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	parent  *recordingWatermillLogger
	fields  watermill.LogFields
}

func (r *recordingWatermillLogger) root() *recordingWatermillLogger {
	if r.parent != nil {
		return r.parent.root()
	}
	return r
}

func (r *recordingWatermillLogger) record(level string, err error, fields watermill.LogFields) {
	merged := fields
	if len(r.fields) > 0 {
		merged = r.fields.Add(fields)
	}
	root := r.root()
	root.entries = append(root.entries, watermillEntry{level: level, fields: merged, err: err})
}

func (r *recordingWatermillLogger) Error(_ string, err error, fields watermill.LogFields) {
	r.record("error", err, fields)
}

func (r *recordingWatermillLogger) Info(_ string, fields watermill.LogFields) {
	r.record("info", nil, fields)
}

func (r *recordingWatermillLogger) Debug(_ string, fields watermill.LogFields) {
	r.record("debug", nil, fields)
}

func (r *recordingWatermillLogger) Trace(_ string, fields watermill.LogFields) {
	r.record("trace", nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingWatermillLogger{parent: r, fields: r.fields.Add(fields)}
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type recordingServiceLogger struct {
	entries []loggedEntry
	parent  *recordingServiceLogger
	fields  LogFields
}

func (r *recordingServiceLogger) add(level, msg string, err error, fields LogFields) {
	merged := LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	root := r
	for root.parent != nil {
		root = root.parent
	}
	root.entries = append(root.entries, loggedEntry{level: level, msg: msg, fields: merged, err: err})
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	return &recordingServiceLogger{parent: r, fields: fields}
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) { r.add("debug", msg, nil, fields) }
func (r *recordingServiceLogger) Info(msg string, fields LogFields)  { r.add("info", msg, nil, fields) }
func (r *recordingServiceLogger) Trace(msg string, fields LogFields) { r.add("trace", msg, nil, fields) }
func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.add("error", msg, err, fields)
}
