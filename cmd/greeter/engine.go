package main

import (
	"io"
	"log/slog"

	"github.com/novadristi/greeter/internal/audio"
	"github.com/novadristi/greeter/internal/config"
	"github.com/novadristi/greeter/internal/speech"
	"github.com/novadristi/greeter/internal/speech/espeak"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newEngine builds the configured speech engine. It falls back to the log
// engine when no audio device can be opened.
func newEngine(c config.SpeechConfig) (speech.Engine, io.Closer) {
	if c.Engine != "espeak" {
		return speech.NewLogEngine(), nopCloser{}
	}
	player, err := audio.NewPlayer(nil)
	if err != nil {
		slog.Warn("audio unavailable, greetings will only be logged", "error", err)
		return speech.NewLogEngine(), nopCloser{}
	}
	return espeak.New(c.EspeakPath, langOf(c.Locale), player), player
}

// langOf turns "en-US" into the espeak language filter "en".
func langOf(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			return locale[:i]
		}
	}
	return locale
}

func newScheduler(c config.SpeechConfig) (*speech.Scheduler, io.Closer) {
	engine, closer := newEngine(c)
	sched := speech.NewScheduler(engine,
		speech.WithRanker(speech.DefaultRanker(c.Providers, c.Locale)),
	)
	return sched, closer
}
