// Package espeak implements speech.Engine on top of the espeak-ng
// synthesizer, playing its output through the audio package.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"sync"

	"github.com/novadristi/greeter/internal/audio"
	"github.com/novadristi/greeter/internal/detection"
	apperrors "github.com/novadristi/greeter/internal/errors"
	"github.com/novadristi/greeter/internal/speech"
	"github.com/novadristi/greeter/internal/trace"
)

// espeak-ng defaults the utterance multipliers scale.
const (
	baseWPM       = 175
	basePitch     = 50
	baseAmplitude = 100
	namePrefix    = "eSpeak "
)

// Player plays decoded audio.
type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// runFunc runs the synthesizer and returns its stdout.
type runFunc func(ctx context.Context, path string, args ...string) ([]byte, error)

// Engine drives espeak-ng.
type Engine struct {
	path   string
	lang   string
	player Player
	run    runFunc

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates an engine. lang filters the voice listing ("en" lists every
// English voice); empty lists all.
func New(path, lang string, player Player) *Engine {
	if path == "" {
		path = "espeak-ng"
	}
	return &Engine{path: path, lang: lang, player: player, run: runCommand}
}

func runCommand(ctx context.Context, path string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Voices lists each installed language twice, once per gender variant.
func (e *Engine) Voices(ctx context.Context) ([]speech.Voice, error) {
	arg := "--voices"
	if e.lang != "" {
		arg += "=" + e.lang
	}
	out, err := e.run(ctx, e.path, arg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVoiceUnavailable, "list espeak voices")
	}
	return parseVoices(out), nil
}

// Speak synthesizes u and plays it. A concurrent Stop aborts both steps.
func (e *Engine) Speak(ctx context.Context, u speech.Utterance) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	wav, err := e.run(ctx, e.path, synthArgs(u)...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "espeak synthesis")
	}
	clip, err := decodeWAV(wav)
	if err != nil {
		return err
	}
	trace.Logger(ctx).Debug("playing utterance", "frames", clip.Frames(), "rate", clip.SampleRate)
	return e.player.Play(ctx, clip)
}

// Stop cancels the utterance in progress.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func synthArgs(u speech.Utterance) []string {
	var args []string
	if id := voiceID(u.Voice); id != "" {
		args = append(args, "-v", id)
	}
	args = append(args,
		"-s", fmt.Sprint(scale(u.Rate, baseWPM, 80, 450)),
		"-p", fmt.Sprint(scale(u.Pitch, basePitch, 0, 99)),
		"-a", fmt.Sprint(scale(u.Volume, baseAmplitude, 0, 200)),
		"--stdout",
		u.Text,
	)
	return args
}

func scale(mult float64, base, lo, hi int) int {
	if mult <= 0 {
		mult = 1
	}
	v := int(math.Round(mult * float64(base)))
	return min(max(v, lo), hi)
}

// voiceID turns a listed voice back into an espeak -v argument such as
// "en-us+f3".
func voiceID(v *speech.Voice) string {
	if v == nil || v.Locale == "" {
		return ""
	}
	id := strings.ToLower(v.Locale)
	switch speech.GenderHint(v.Name) {
	case detection.GenderFemale:
		id += "+f3"
	case detection.GenderMale:
		id += "+m3"
	}
	return id
}

// parseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US     (en 2)
func parseVoices(out []byte) []speech.Voice {
	var voices []speech.Voice
	seen := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		locale := normalizeLocale(fields[1])
		if seen[locale] {
			continue
		}
		seen[locale] = true
		name := strings.ReplaceAll(fields[3], "_", " ")
		voices = append(voices,
			speech.Voice{Name: namePrefix + name + " Female", Locale: locale},
			speech.Voice{Name: namePrefix + name + " Male", Locale: locale},
		)
	}
	return voices
}

// normalizeLocale upper-cases the region: "en-gb-x-rp" becomes "en-GB-x-rp".
func normalizeLocale(s string) string {
	parts := strings.Split(s, "-")
	if len(parts) > 1 && len(parts[1]) == 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}
