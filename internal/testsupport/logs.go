package testsupport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is a captured log record with its attributes flattened to strings.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogRecorder is a slog.Handler that keeps every record for assertions.
type LogRecorder struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	attrs   []slog.Attr
}

// NewLogRecorder returns a recorder and a debug-level logger writing to it.
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	rec := &LogRecorder{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
	return rec, slog.New(rec)
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	entry := LogEntry{Level: record.Level, Message: record.Message, Attrs: make(map[string]string)}
	for _, attr := range r.attrs {
		entry.Attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		entry.Attrs[attr.Key] = attr.Value.String()
		return true
	})
	r.mu.Lock()
	*r.entries = append(*r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *r
	next.attrs = append(append([]slog.Attr(nil), r.attrs...), attrs...)
	return &next
}

// WithGroup is accepted but groups are not tracked.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Entries returns a copy of every captured record.
func (r *LogRecorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), (*r.entries)...)
}

// Find returns captured records at level whose message contains substr.
func (r *LogRecorder) Find(level slog.Level, substr string) []LogEntry {
	var matches []LogEntry
	for _, entry := range r.Entries() {
		if entry.Level == level && strings.Contains(entry.Message, substr) {
			matches = append(matches, entry)
		}
	}
	return matches
}

// Count returns how many records were captured at level.
func (r *LogRecorder) Count(level slog.Level) int {
	n := 0
	for _, entry := range r.Entries() {
		if entry.Level == level {
			n++
		}
	}
	return n
}
