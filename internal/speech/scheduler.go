package speech

import (
	"context"
	"sync"
	"time"

	"github.com/novadristi/greeter/internal/detection"
	apperrors "github.com/novadristi/greeter/internal/errors"
	"github.com/novadristi/greeter/internal/syncx"
	"github.com/novadristi/greeter/internal/trace"
)

// Fixed utterance parameters.
const (
	Rate        = 0.9
	PitchFemale = 1.1
	PitchOther  = 0.9
	Volume      = 1.0

	DefaultPause = 300 * time.Millisecond
)

var (
	// ErrBusy is returned when another utterance is playing. The request is dropped.
	ErrBusy = apperrors.New(apperrors.CodeSpeechBusy, "speech in progress")
	// ErrThrottled is returned for an unknown-visitor repeat inside the cooldown.
	ErrThrottled = apperrors.New(apperrors.CodeSpeechThrottled, "identical greeting spoken recently")
)

// Speaker is the part of the Scheduler the detection loop depends on.
type Speaker interface {
	Speak(ctx context.Context, text string, class detection.Classification, gender detection.Gender) <-chan error
}

// Scheduler plays at most one utterance at a time. Requests that arrive
// while busy are dropped, never queued.
type Scheduler struct {
	engine   Engine
	ranker   Ranker
	pause    time.Duration
	now      func() time.Time
	playing  syncx.Flag
	throttle *repeatThrottle

	voicesMu sync.Mutex
	voices   []Voice
	loaded   bool

	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used by the repeat throttle.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPause sets the silence kept after each utterance.
func WithPause(d time.Duration) Option {
	return func(s *Scheduler) { s.pause = d }
}

// WithRanker replaces the voice selection chain.
func WithRanker(r Ranker) Option {
	return func(s *Scheduler) { s.ranker = r }
}

// NewScheduler creates a scheduler over engine.
func NewScheduler(engine Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		ranker:   DefaultRanker(nil, ""),
		pause:    DefaultPause,
		now:      time.Now,
		throttle: newRepeatThrottle(),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak starts an utterance and returns a channel that receives its result
// once playback and the trailing pause are over. Busy and throttled
// requests complete immediately with ErrBusy or ErrThrottled.
func (s *Scheduler) Speak(ctx context.Context, text string, class detection.Classification, gender detection.Gender) <-chan error {
	done := make(chan error, 1)
	now := s.now()
	s.throttle.evict(now)

	if !s.playing.TryAcquire() {
		trace.Logger(ctx).Debug("utterance dropped, engine busy", "text", text)
		done <- ErrBusy
		close(done)
		return done
	}

	if class == detection.Unknown && text != "" && !s.throttle.allow(repeatKey(gender, text), now) {
		s.playing.Release()
		trace.Logger(ctx).Debug("utterance throttled", "text", text, "gender", gender)
		done <- ErrThrottled
		close(done)
		return done
	}

	go func() {
		done <- s.play(ctx, text, gender)
		close(done)
	}()
	return done
}

func (s *Scheduler) play(ctx context.Context, text string, gender detection.Gender) (err error) {
	defer s.playing.Release()

	ctx, span := trace.StartSpan(ctx, "speak")
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.CodeSpeechFailed, "engine panic: %v", r)
		}
		if err != nil {
			span.Fail(err)
		}
		span.End()
	}()

	u := s.utterance(ctx, text, gender)
	if u.Voice != nil {
		span.SetAttr("voice", u.Voice.Name)
	}

	if err := s.engine.Speak(ctx, u); err != nil {
		trace.Logger(ctx).Error("speech synthesis failed", "text", text, "error", err)
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "speak")
	}

	if s.pause > 0 {
		t := time.NewTimer(s.pause)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		case <-s.closed:
		}
	}
	return nil
}

func (s *Scheduler) utterance(ctx context.Context, text string, gender detection.Gender) Utterance {
	pitch := PitchOther
	if gender == detection.GenderFemale {
		pitch = PitchFemale
	}
	return Utterance{
		Text:   text,
		Voice:  s.ranker.Select(s.loadVoices(ctx), gender),
		Rate:   Rate,
		Pitch:  pitch,
		Volume: Volume,
	}
}

// loadVoices fetches the engine's voices once. A failed fetch is retried
// on the next utterance.
func (s *Scheduler) loadVoices(ctx context.Context) []Voice {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	if s.loaded {
		return s.voices
	}
	voices, err := s.engine.Voices(ctx)
	if err != nil {
		trace.Logger(ctx).Warn("listing voices failed, using engine default", "error", err)
		return nil
	}
	s.voices, s.loaded = voices, true
	return s.voices
}

// Voices returns the engine's voices.
func (s *Scheduler) Voices(ctx context.Context) []Voice {
	return append([]Voice(nil), s.loadVoices(ctx)...)
}

// Preferred returns the voice that would be used for gender, or nil.
func (s *Scheduler) Preferred(ctx context.Context, gender detection.Gender) *Voice {
	return s.ranker.Select(s.loadVoices(ctx), gender)
}

// Busy reports whether an utterance is playing.
func (s *Scheduler) Busy() bool { return s.playing.Busy() }

// Close stops any utterance in progress.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.engine.Stop()
}
