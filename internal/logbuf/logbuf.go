// Package logbuf captures slog output into a bounded in-memory ring so the
// daemon API can serve recent logs without touching disk.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-capacity buffer of log entries. Writes overwrite the
// oldest entry once full. Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	slots []Entry
	next  int
	full  bool
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{slots: make([]Entry, capacity)}
}

// Add records one entry.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	r.slots[r.next] = e
	r.next = (r.next + 1) % len(r.slots)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Tail returns up to limit entries at or above minLevel, oldest first.
// limit <= 0 returns all matching entries.
func (r *Ring) Tail(minLevel slog.Level, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	walk := func(e Entry) {
		if e.Level >= minLevel {
			out = append(out, e)
		}
	}
	if r.full {
		for _, e := range r.slots[r.next:] {
			walk(e)
		}
	}
	for _, e := range r.slots[:r.next] {
		walk(e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Size returns the number of entries currently held.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.slots)
	}
	return r.next
}
