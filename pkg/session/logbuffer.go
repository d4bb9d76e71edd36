package session

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLogBufferSize is the number of entries kept for get_logs.
const DefaultLogBufferSize = 100

// LogEntry is one diagnostic record.
type LogEntry struct {
	Time   time.Time      `json:"time"`
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// LogBuffer keeps the most recent entries, dropping the oldest. It outlives
// every session reset.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	limit   int
}

// NewLogBuffer returns a buffer holding at most limit entries
// (DefaultLogBufferSize when limit <= 0).
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = DefaultLogBufferSize
	}
	return &LogBuffer{limit: limit}
}

// Add appends an entry built from alternating key/value pairs.
func (b *LogBuffer) Add(at time.Time, event string, keyvals ...any) {
	entry := LogEntry{Time: at, Event: event}
	if len(keyvals) > 0 {
		entry.Fields = make(map[string]any, (len(keyvals)+1)/2)
		for i := 0; i < len(keyvals); i += 2 {
			key := fmt.Sprint(keyvals[i])
			if i+1 < len(keyvals) {
				entry.Fields[key] = fieldValue(keyvals[i+1])
			} else {
				entry.Fields[key] = nil
			}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.limit {
		drop := len(b.entries) - b.limit + 1
		b.entries = append(b.entries[:0], b.entries[drop:]...)
	}
	b.entries = append(b.entries, entry)
}

func fieldValue(v any) any {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

// Drain returns the buffer and clears it.
func (b *LogBuffer) Drain() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	if out == nil {
		out = []LogEntry{}
	}
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
