// Package sightings buffers recently seen unknown faces for enrollment.
package sightings

import (
	"bytes"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"

	"github.com/novadristi/greeter/internal/detection"
)

// Buffer defaults.
const (
	DefaultRetention = 10 * time.Minute
	DefaultProximity = 2.0 // percent of frame
	MaxHashDistance  = 10
)

// Sighting is a buffered unknown face.
type Sighting struct {
	ID          string              `json:"id"`
	Detection   detection.Detection `json:"detection"`
	ShownAt     time.Time           `json:"shownAt"`
	ImageRef    string              `json:"imageSrc,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"` // perceptual hash of the face crop
	SimilarTo   string              `json:"similarTo,omitempty"`   // earlier sighting with a matching crop
}

// Buffer holds unknown sightings. Two detections whose top and left both
// differ by less than the proximity are the same sighting.
type Buffer struct {
	mu        sync.RWMutex
	items     []Sighting
	retention time.Duration
	proximity float64
	now       func() time.Time
	changes   chan []Sighting
}

// NewBuffer creates an empty buffer. Zero arguments use the defaults.
func NewBuffer(retention time.Duration, proximity float64) *Buffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if proximity <= 0 {
		proximity = DefaultProximity
	}
	return &Buffer{
		retention: retention,
		proximity: proximity,
		now:       time.Now,
		changes:   make(chan []Sighting, 1),
	}
}

// WithClock replaces the wall clock.
func (b *Buffer) WithClock(now func() time.Time) *Buffer {
	b.now = now
	return b
}

// Refresh appends unknown detections that match no buffered sighting, then
// purges sightings older than the retention window.
func (b *Buffer) Refresh(dets []detection.Detection) {
	now := b.now()

	b.mu.Lock()
	before := len(b.items)
	added := 0
	for _, d := range dets {
		if d.Classification != detection.Unknown || b.nearLocked(d.Box) {
			continue
		}
		fp := fingerprint(d.FaceImage)
		s := Sighting{
			ID:          uuid.NewString(),
			Detection:   d,
			ShownAt:     now,
			ImageRef:    d.ImageRef,
			Fingerprint: fp,
		}
		if match, ok := b.resemblesLocked(fp); ok {
			s.SimilarTo = match.ID
		}
		b.items = append(b.items, s)
		added++
	}

	kept := b.items[:0]
	for _, s := range b.items {
		if now.Sub(s.ShownAt) < b.retention {
			kept = append(kept, s)
		}
	}
	clear(b.items[len(kept):])
	b.items = kept
	changed := added > 0 || len(kept) != before+added
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if changed {
		b.emit(snap)
	}
}

func (b *Buffer) nearLocked(box detection.BoundingBox) bool {
	for _, s := range b.items {
		if b.near(s.Detection.Box, box) {
			return true
		}
	}
	return false
}

func (b *Buffer) near(a, c detection.BoundingBox) bool {
	return math.Abs(a.Top-c.Top) < b.proximity && math.Abs(a.Left-c.Left) < b.proximity
}

// Remove drops the sighting with id along with any others at the same spot.
// It reports whether id was found.
func (b *Buffer) Remove(id string) bool {
	b.mu.Lock()
	var target *detection.BoundingBox
	for i := range b.items {
		if b.items[i].ID == id {
			box := b.items[i].Detection.Box
			target = &box
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return false
	}
	kept := b.items[:0]
	for _, s := range b.items {
		if !b.near(s.Detection.Box, *target) {
			kept = append(kept, s)
		}
	}
	clear(b.items[len(kept):])
	b.items = kept
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.emit(snap)
	return true
}

// List returns the buffered sightings, oldest first.
func (b *Buffer) List() []Sighting {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// resemblesLocked returns the first sighting whose fingerprint is within
// MaxHashDistance of fp.
func (b *Buffer) resemblesLocked(fp string) (Sighting, bool) {
	hash := parseHash(fp)
	if hash == nil {
		return Sighting{}, false
	}
	for _, s := range b.items {
		other := parseHash(s.Fingerprint)
		if other == nil {
			continue
		}
		if dist, err := hash.Distance(other); err == nil && dist <= MaxHashDistance {
			return s, true
		}
	}
	return Sighting{}, false
}

// Changes delivers the latest buffer contents after each change. Only the
// newest snapshot is kept for a slow reader.
func (b *Buffer) Changes() <-chan []Sighting {
	return b.changes
}

func (b *Buffer) emit(snap []Sighting) {
	for {
		select {
		case b.changes <- snap:
			return
		default:
		}
		select {
		case <-b.changes:
		default:
		}
	}
}

func (b *Buffer) snapshotLocked() []Sighting {
	return append([]Sighting(nil), b.items...)
}

// fingerprint returns the perceptual hash of an encoded image, or "" when
// there is no usable image.
func fingerprint(img []byte) string {
	if len(img) == 0 {
		return ""
	}
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		slog.Debug("face crop not decodable", "error", err)
		return ""
	}
	hash, err := goimagehash.PerceptionHash(decoded)
	if err != nil {
		return ""
	}
	return hash.ToString()
}

func parseHash(s string) *goimagehash.ImageHash {
	if s == "" {
		return nil
	}
	hash, err := goimagehash.ImageHashFromString(s)
	if err != nil {
		return nil
	}
	return hash
}
