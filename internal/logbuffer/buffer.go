/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so the API can
// serve them without a log shipper.
package logbuffer

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 2000

// Entry is one captured log line.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// All returns the entries oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := range out {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// Query filters buffered entries.
type Query struct {
	Level     string    // exact level, e.g. "warn"
	Component string    // exact component
	Search    string    // case-insensitive substring of message or string fields
	Since     time.Time // entries at or after
	Limit     int       // 0 means no limit
	Newest    bool      // newest first
}

// Query returns the entries matching q.
func (b *Buffer) Query(q Query) []Entry {
	all := b.All()
	search := strings.ToLower(q.Search)

	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if !q.Since.IsZero() && e.Time.Before(q.Since) {
			continue
		}
		if search != "" && !e.contains(search) {
			continue
		}
		out = append(out, e)
	}

	if q.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (e Entry) contains(lower string) bool {
	if strings.Contains(strings.ToLower(e.Message), lower) ||
		strings.Contains(strings.ToLower(e.Component), lower) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lower) {
			return true
		}
	}
	return false
}

// Stats summarizes the buffer.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	Levels     map[string]int `json:"levels"`
	Components []string       `json:"components"`
}

// Stats counts entries per level and lists components, sorted.
func (b *Buffer) Stats() Stats {
	all := b.All()
	st := Stats{Capacity: b.capacity, Count: len(all), Levels: make(map[string]int)}
	seen := make(map[string]bool)
	for _, e := range all {
		st.Levels[e.Level]++
		if e.Component != "" && !seen[e.Component] {
			seen[e.Component] = true
			st.Components = append(st.Components, e.Component)
		}
	}
	sort.Strings(st.Components)
	return st
}

// Writer captures zerolog JSON lines into a Buffer. Lines that are not JSON
// objects are ignored.
type Writer struct {
	buffer *Buffer
}

// NewWriter returns a writer feeding b.
func NewWriter(b *Buffer) *Writer {
	return &Writer{buffer: b}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	e := Entry{Time: time.Now().UTC()}
	if v, ok := raw["level"].(string); ok {
		e.Level = v
		delete(raw, "level")
	}
	if v, ok := raw["message"].(string); ok {
		e.Message = v
		delete(raw, "message")
	}
	if v, ok := raw["component"].(string); ok {
		e.Component = v
		delete(raw, "component")
	}
	switch ts := raw["time"].(type) {
	case float64:
		e.Time = time.Unix(int64(ts), 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Time = t.UTC()
		}
	}
	delete(raw, "time")
	if len(raw) > 0 {
		e.Fields = raw
	}

	w.buffer.Add(e)
	return len(p), nil
}
