package speech

import (
	"sync"
	"time"

	"github.com/novadristi/greeter/internal/detection"
)

const (
	repeatCooldown = 2 * time.Second
	repeatHorizon  = 10 * time.Second
)

// repeatThrottle suppresses identical unknown-visitor utterances.
type repeatThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newRepeatThrottle() *repeatThrottle {
	return &repeatThrottle{last: make(map[string]time.Time)}
}

func repeatKey(gender detection.Gender, text string) string {
	g := string(gender)
	if g == "" {
		g = "unknown"
	}
	return g + "-" + text
}

// evict drops entries older than the horizon.
func (t *repeatThrottle) evict(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, ts := range t.last {
		if now.Sub(ts) > repeatHorizon {
			delete(t.last, k)
		}
	}
}

// allow records key and returns true unless it was spoken within the cooldown.
func (t *repeatThrottle) allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[key]; ok && now.Sub(last) < repeatCooldown {
		return false
	}
	t.last[key] = now
	return true
}

func (t *repeatThrottle) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
