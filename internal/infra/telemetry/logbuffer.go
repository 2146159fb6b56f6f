package telemetry

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultLogBufferSize is the default ring capacity for captured logs.
const DefaultLogBufferSize = 1024

// LogRecord is one captured log line, as served by /debug/logs.
type LogRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// LogBuffer keeps the most recent log entries in a fixed ring so the
// observability listener can serve them without shipping log files.
// Credential-bearing field values are masked at capture time.
type LogBuffer struct {
	minLevel zapcore.Level

	mu    sync.Mutex
	items []LogRecord
	size  int
	next  int
}

func NewLogBuffer(capacity int, minLevel zapcore.Level) *LogBuffer {
	if capacity < 1 {
		capacity = DefaultLogBufferSize
	}
	return &LogBuffer{
		minLevel: minLevel,
		items:    make([]LogRecord, capacity),
	}
}

// Core returns a zapcore.Core that tees entries into the buffer.
func (b *LogBuffer) Core() zapcore.Core {
	return &logBufferCore{buffer: b}
}

// Snapshot returns the buffered records in insertion order.
func (b *LogBuffer) Snapshot() []LogRecord {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]LogRecord, 0, b.size)
	if b.size < len(b.items) {
		out = append(out, b.items[:b.size]...)
		return out
	}
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

func (b *LogBuffer) add(record LogRecord) {
	b.mu.Lock()
	b.items[b.next] = record
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
	b.mu.Unlock()
}

type logBufferCore struct {
	buffer *LogBuffer
	fields []zapcore.Field
}

func (c *logBufferCore) Enabled(level zapcore.Level) bool {
	return level >= c.buffer.minLevel
}

func (c *logBufferCore) With(fields []zapcore.Field) zapcore.Core {
	if len(fields) == 0 {
		return c
	}
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &logBufferCore{buffer: c.buffer, fields: combined}
}

func (c *logBufferCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *logBufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	encoder := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(encoder)
	}
	for _, field := range fields {
		field.AddTo(encoder)
	}

	record := LogRecord{
		Time:    entry.Time.UTC(),
		Level:   entry.Level.String(),
		Logger:  entry.LoggerName,
		Message: entry.Message,
	}
	if len(encoder.Fields) > 0 {
		record.Fields = redactFields(encoder.Fields)
	}
	c.buffer.add(record)
	return nil
}

func (c *logBufferCore) Sync() error {
	return nil
}

var sensitiveFieldKeys = []string{
	"token",
	"secret",
	"authorization",
	"api_key",
	"apikey",
	"signingkey",
	"password",
	"cookie",
}

// redactFields masks values under credential-looking keys.
func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if sensitiveFieldKey(key) {
			out[key] = "***"
			continue
		}
		out[key] = value
	}
	return out
}

func sensitiveFieldKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range sensitiveFieldKeys {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

var _ zapcore.Core = (*logBufferCore)(nil)
