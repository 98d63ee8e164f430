// Package board keeps the latest greeting per key for the dashboard.
package board

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/novadristi/greeter/internal/syncx"
)

// DefaultMaxRecords bounds the board; the oldest record is dropped first.
const DefaultMaxRecords = 200

// Record echoes one dispatched greeting.
type Record struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Board holds one record per key. A new greeting for a key replaces the old one.
type Board struct {
	records *syncx.RWGuard[map[string]Record]
	maxSize int
	events  chan Record
	now     func() time.Time
}

// New creates a board. eventBuffer sizes the Events channel.
func New(maxRecords, eventBuffer int) *Board {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Board{
		records: syncx.NewGuard(make(map[string]Record)),
		maxSize: maxRecords,
		events:  make(chan Record, eventBuffer),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock.
func (b *Board) WithClock(now func() time.Time) *Board {
	b.now = now
	return b
}

// Put records a greeting for key and emits it.
func (b *Board) Put(key, text string) Record {
	r := Record{ID: uuid.NewString(), Key: key, Text: text, Timestamp: b.now()}
	b.records.Write(func(m *map[string]Record) {
		(*m)[key] = r
		if len(*m) > b.maxSize {
			evictOldest(*m)
		}
	})
	b.emit(r)
	return r
}

func evictOldest(m map[string]Record) {
	var oldest string
	var at time.Time
	for k, r := range m {
		if oldest == "" || r.Timestamp.Before(at) {
			oldest, at = k, r.Timestamp
		}
	}
	delete(m, oldest)
}

// Get returns the record for key.
func (b *Board) Get(key string) (Record, bool) {
	var (
		r  Record
		ok bool
	)
	b.records.View(func(m map[string]Record) { r, ok = m[key] })
	return r, ok
}

// Snapshot returns all records, newest first.
func (b *Board) Snapshot() []Record {
	var out []Record
	b.records.View(func(m map[string]Record) {
		out = make([]Record, 0, len(m))
		for _, r := range m {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Key < out[j].Key
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Events returns the channel of newly put records.
func (b *Board) Events() <-chan Record {
	return b.events
}

// emit is non-blocking; slow readers miss records.
func (b *Board) emit(r Record) {
	select {
	case b.events <- r:
	default:
	}
}
