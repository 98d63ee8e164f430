// Package speech serializes greetings through a text-to-speech engine.
package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Voice describes one voice an engine can speak with. Gender and provider
// hints live inside Name; the format is engine specific.
type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// Utterance is a single synthesis request.
type Utterance struct {
	Text   string
	Voice  *Voice // nil lets the engine pick its default
	Rate   float64
	Pitch  float64
	Volume float64
}

// Engine is a platform text-to-speech capability.
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	// Speak blocks until the utterance finished playing or failed.
	Speak(ctx context.Context, u Utterance) error
	// Stop aborts the utterance in progress, if any.
	Stop()
}

// LogEngine is a headless Engine that writes utterances to the log.
type LogEngine struct {
	voices []Voice

	mu     sync.Mutex
	spoken []Utterance
}

// NewLogEngine creates a log engine advertising the given voices.
func NewLogEngine(voices ...Voice) *LogEngine {
	return &LogEngine{voices: voices}
}

func (e *LogEngine) Voices(context.Context) ([]Voice, error) {
	return append([]Voice(nil), e.voices...), nil
}

func (e *LogEngine) Speak(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	voice := "default"
	if u.Voice != nil {
		voice = u.Voice.Name
	}
	slog.Info("speaking", "text", u.Text, "voice", voice, "rate", u.Rate, "pitch", u.Pitch)

	e.mu.Lock()
	e.spoken = append(e.spoken, u)
	e.mu.Unlock()
	return nil
}

func (e *LogEngine) Stop() {}

// Spoken returns every utterance handled so far.
func (e *LogEngine) Spoken() []Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Utterance(nil), e.spoken...)
}

func lower(s string) string { return strings.ToLower(s) }
