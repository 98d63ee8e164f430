// Package orchestrator runs the detection cycle: fetch faces, decide who to
// greet, hand the greeting to the speech scheduler.
package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novadristi/greeter/internal/detection"
	"github.com/novadristi/greeter/internal/greeting"
	"github.com/novadristi/greeter/internal/orchestrator/board"
	"github.com/novadristi/greeter/internal/orchestrator/sightings"
	"github.com/novadristi/greeter/internal/profile"
	"github.com/novadristi/greeter/internal/ratelimit"
	"github.com/novadristi/greeter/internal/resilience"
	"github.com/novadristi/greeter/internal/speech"
	"github.com/novadristi/greeter/internal/syncx"
	"github.com/novadristi/greeter/internal/trace"
)

// Limiter decides whether a key may be greeted now.
type Limiter interface {
	ShouldGreet(key string, category ratelimit.Category, loc *detection.BoundingBox) bool
}

// VisitLogger receives recognized people who were greeted.
type VisitLogger interface {
	Add(c profile.Category, id, name string)
}

// Deps are the collaborators of a Controller. Visits and Breaker are optional.
type Deps struct {
	Source    detection.Source
	Limiter   Limiter
	Composer  *greeting.Composer
	Speaker   speech.Speaker
	Board     *board.Board
	Sightings *sightings.Buffer
	Visits    VisitLogger
	Breaker   *resilience.Breaker
}

// Config holds polling intervals.
type Config struct {
	FastInterval time.Duration // after a cycle that saw someone
	SlowInterval time.Duration // after an empty cycle
}

// Controller is the detection loop. At most one cycle runs at a time; a
// tick that finds a cycle in flight is skipped.
type Controller struct {
	deps       Deps
	cfg        Config
	inFlight   syncx.Flag
	interval   atomic.Int64
	intervalCh chan time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a controller.
func New(deps Deps, cfg Config) *Controller {
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = DefaultFastInterval
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = DefaultSlowInterval
	}
	if deps.Breaker == nil {
		deps.Breaker = resilience.New(resilience.DefaultConfig())
	}
	c := &Controller{
		deps:       deps,
		cfg:        cfg,
		intervalCh: make(chan time.Duration, 1),
		stopCh:     make(chan struct{}),
	}
	c.interval.Store(int64(cfg.SlowInterval))
	return c
}

// Interval returns the current polling interval.
func (c *Controller) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Start begins polling until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.Tick(ctx)
			}()
		}
	}
}

// Stop ends the loop and waits for the running cycle.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Tick runs one cycle unless one is already in flight. It reports whether
// a cycle ran.
func (c *Controller) Tick(ctx context.Context) bool {
	if !c.inFlight.TryAcquire() {
		trace.Logger(ctx).Debug("detection cycle still running, tick skipped")
		return false
	}
	defer c.inFlight.Release()
	c.cycle(ctx)
	return true
}

func (c *Controller) cycle(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "detection_cycle")
	defer span.End()
	log := trace.Logger(ctx)

	dets, err := resilience.ExecuteWithResult(c.deps.Breaker, func() ([]detection.Detection, error) {
		return c.deps.Source.Detect(ctx)
	})
	if err != nil {
		span.Fail(err)
		log.Warn("detection fetch failed", "error", err)
		return
	}
	c.setInterval(len(dets) > 0)

	dets = wellFormed(ctx, dets)
	span.SetAttr("detections", len(dets))
	if len(dets) == 0 {
		return
	}

	c.deps.Sightings.Refresh(dets)

	if len(dets) > 1 {
		c.greetGroup(ctx, dets)
		return
	}
	for _, d := range dets {
		c.greetIndividual(ctx, d)
	}
}

func (c *Controller) setInterval(seen bool) {
	next := c.cfg.SlowInterval
	if seen {
		next = c.cfg.FastInterval
	}
	if time.Duration(c.interval.Swap(int64(next))) == next {
		return
	}
	select {
	case c.intervalCh <- next:
	default:
		// replace a pending change nobody has read yet
		select {
		case <-c.intervalCh:
		default:
		}
		select {
		case c.intervalCh <- next:
		default:
		}
	}
}

// wellFormed drops detections without usable geometry or identity.
func wellFormed(ctx context.Context, dets []detection.Detection) []detection.Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if !d.Box.Valid() || (d.Classification.Known() && d.Name == "") {
			trace.Logger(ctx).Debug("skipping malformed detection", "name", d.Name, "box", d.Box)
			continue
		}
		out = append(out, d)
	}
	return out
}

func (c *Controller) greetGroup(ctx context.Context, dets []detection.Detection) {
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.Name
	}
	key := ratelimit.GroupKey(names)
	if !c.deps.Limiter.ShouldGreet(key, ratelimit.Group, nil) {
		return
	}
	c.dispatch(ctx, key, c.deps.Composer.Group(dets), detection.Customer, detection.GenderNone)
	c.logVisits(dets)
}

func (c *Controller) greetIndividual(ctx context.Context, d detection.Detection) {
	key := IdentityKey(d)
	if !c.deps.Limiter.ShouldGreet(key, ratelimit.ForClassification(d.Classification), &d.Box) {
		return
	}
	c.dispatch(ctx, key, c.deps.Composer.Individual(d.Name, d.Classification, d.Gender), d.Classification, d.Gender)
	c.logVisits([]detection.Detection{d})
}

// dispatch posts the greeting to the board and starts speaking it. The
// speech result is not awaited; a busy scheduler drops it.
func (c *Controller) dispatch(ctx context.Context, key, text string, class detection.Classification, gender detection.Gender) {
	c.deps.Board.Put(key, text)
	trace.Logger(ctx).Info("greeting", "key", key, "text", text)
	c.deps.Speaker.Speak(ctx, text, class, gender)
}

func (c *Controller) logVisits(dets []detection.Detection) {
	if c.deps.Visits == nil {
		return
	}
	for _, d := range dets {
		if cat, ok := profile.ForClassification(d.Classification); ok {
			c.deps.Visits.Add(cat, d.Name, d.Name)
		}
	}
}

// IdentityKey is the board key for a single detection: the name for known
// people, "unknown-<top>-<left>" otherwise.
func IdentityKey(d detection.Detection) string {
	if d.Classification.Known() {
		return d.Name
	}
	return "unknown-" + formatCoord(d.Box.Top) + "-" + formatCoord(d.Box.Left)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
