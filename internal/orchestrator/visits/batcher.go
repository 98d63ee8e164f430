// Package visits batches visit logging for recognized people.
package visits

import (
	"context"
	"sync"
	"time"

	"github.com/novadristi/greeter/internal/profile"
	"github.com/novadristi/greeter/internal/resilience"
	"github.com/novadristi/greeter/internal/trace"
)

// Batcher defaults
const (
	DefaultMaxSize    = 20
	DefaultFlushDelay = 2 * time.Second
)

// Recorder persists a visit. *profile.Store implements it.
type Recorder interface {
	RecordVisit(ctx context.Context, c profile.Category, id, displayName string) (bool, error)
}

// Item is one queued visit.
type Item struct {
	Category profile.Category
	ID       string
	Name     string
}

// Batcher accumulates visits and writes them in batches. Repeats of the
// same person inside one batch collapse to one write.
type Batcher struct {
	store      Recorder
	retry      resilience.RetryConfig
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      []Item
	queued     map[string]bool
	timer      *time.Timer
	wg         sync.WaitGroup
}

// NewBatcher creates a visit batcher.
func NewBatcher(store Recorder, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &Batcher{
		store:      store,
		retry:      resilience.DefaultRetryConfig(),
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make([]Item, 0, maxSize),
		queued:     make(map[string]bool),
	}
}

// Add queues a visit.
func (b *Batcher) Add(c profile.Category, id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := string(c) + "/" + profile.NormalizeID(id)
	if b.queued[key] {
		return
	}
	b.queued[key] = true
	b.items = append(b.items, Item{Category: c, ID: id, Name: name})

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.items) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = make([]Item, 0, b.maxSize)
	b.queued = make(map[string]bool)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "visit_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		counted := 0
		for _, it := range items {
			var ok bool
			err := resilience.Retry(ctx, b.retry, func() error {
				var err error
				ok, err = b.store.RecordVisit(ctx, it.Category, it.ID, it.Name)
				return err
			})
			if err != nil {
				span.Fail(err)
				log.Warn("recording visit failed", "id", it.ID, "category", it.Category, "error", err)
				continue
			}
			if ok {
				counted++
			}
		}
		log.Debug("visit batch stored", "counted", counted, "submitted", len(items))
	}()
}

// Flush forces immediate flush of pending visits.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes what is left and waits for in-flight writes.
func (b *Batcher) Stop() {
	b.Flush()
	b.wg.Wait()
}
