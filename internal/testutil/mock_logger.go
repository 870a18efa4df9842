// Package testutil provides shared test helpers.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
)

// LogMessage is a single entry captured by MockLogger.  Fields include those
// attached through With.
type LogMessage struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the named field and whether it was present.
func (m LogMessage) Field(key string) (interface{}, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

type recorder struct {
	mu       sync.Mutex
	messages []LogMessage
}

// MockLogger implements logging.Logger and records every entry.  Children
// created by With and Named write to the same record.
type MockLogger struct {
	rec    *recorder
	name   string
	fields []logging.Field
}

// NewMockLogger creates a MockLogger with an empty record.
func NewMockLogger() *MockLogger {
	return &MockLogger{rec: &recorder{}}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(m.fields)+len(fields))
	all = append(all, m.fields...)
	all = append(all, fields...)

	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.rec.messages = append(m.rec.messages, LogMessage{
		Level:   level,
		Logger:  m.name,
		Message: msg,
		Fields:  all,
	})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log(logging.LevelDebug, msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log(logging.LevelInfo, msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log(logging.LevelWarn, msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log(logging.LevelError, msg, fields) }

// Fatal records the entry without exiting.
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }

func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := &MockLogger{rec: m.rec, name: m.name}
	child.fields = append(append(child.fields, m.fields...), fields...)
	return child
}

func (m *MockLogger) Named(name string) logging.Logger {
	child := &MockLogger{rec: m.rec, fields: m.fields}
	if m.name == "" {
		child.name = name
	} else {
		child.name = m.name + "." + name
	}
	return child
}

func (m *MockLogger) Sync() error { return nil }

// Messages returns a copy of every recorded entry.
func (m *MockLogger) Messages() []LogMessage {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	out := make([]LogMessage, len(m.rec.messages))
	copy(out, m.rec.messages)
	return out
}

// Find returns the entries at level whose message contains substr.
func (m *MockLogger) Find(level, substr string) []LogMessage {
	var out []LogMessage
	for _, msg := range m.Messages() {
		if msg.Level == level && strings.Contains(msg.Message, substr) {
			out = append(out, msg)
		}
	}
	return out
}

// HasMessage reports whether an entry with exactly this level and message
// was recorded.
func (m *MockLogger) HasMessage(level, msg string) bool {
	for _, logged := range m.Messages() {
		if logged.Level == level && logged.Message == msg {
			return true
		}
	}
	return false
}

// Clear drops every recorded entry.
func (m *MockLogger) Clear() {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.rec.messages = m.rec.messages[:0]
}

var _ logging.Logger = (*MockLogger)(nil)
