// Package ratelimit decides whether a key may be greeted again.
package ratelimit

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/novadristi/greeter/internal/detection"
)

// Cooldowns per category.
const (
	KnownCooldown   = 24 * time.Hour
	GroupCooldown   = 2 * time.Hour
	UnknownCooldown = 2 * time.Second
)

// Category selects the cooldown policy for a key.
type Category string

const (
	Group    Category = "group"
	Staff    Category = Category(detection.Staff)
	Customer Category = Category(detection.Customer)
	Unknown  Category = Category(detection.Unknown)
)

// ForClassification maps a detection classification onto its category.
func ForClassification(c detection.Classification) Category {
	return Category(c)
}

// Store holds the last greeting time per key. Identity and group keys live
// in one map, spatial buckets for unknown faces in another.
type Store struct {
	mu       sync.Mutex
	greeted  map[string]time.Time
	unknowns map[string]time.Time
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		greeted:  make(map[string]time.Time),
		unknowns: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldGreet reports whether key may be greeted now and, if so, records the
// greeting. For unknown faces with a location the key is ignored and the
// rounded position bucket is used instead.
func (s *Store) ShouldGreet(key string, category Category, loc *detection.BoundingBox) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	history, cooldown := s.greeted, KnownCooldown
	switch {
	case category == Group:
		cooldown = GroupCooldown
	case category == Unknown && loc != nil:
		history, cooldown = s.unknowns, UnknownCooldown
		key = BucketKey(*loc)
	}

	if last, ok := history[key]; ok && now.Sub(last) <= cooldown {
		return false
	}
	history[key] = now
	return true
}

// BucketKey quantizes a box to "<top>-<left>" in whole percent. Halves round up.
func BucketKey(b detection.BoundingBox) string {
	return fmt.Sprintf("%d-%d", roundHalfUp(b.Top), roundHalfUp(b.Left))
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// GroupKey joins names in sorted order so any arrangement of the same
// people maps to one key. The input is not modified.
func GroupKey(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}
