// Package audio plays PCM clips on an output device.
package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

const framesPerBuffer = 1024

// Clip is interleaved signed 16-bit PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in the clip.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Player writes clips to the best available output device.
type Player struct {
	mu           sync.Mutex
	excludedDevs []string
	closed       bool
}

// NewPlayer initializes portaudio. Devices whose name contains one of
// excluded are never used.
func NewPlayer(excluded []string) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSpeechFailed, "initialize audio")
	}
	return &Player{excludedDevs: excluded}, nil
}

// Play blocks until the clip finished or ctx is cancelled. Only one clip
// plays at a time.
func (p *Player) Play(ctx context.Context, clip Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.New(apperrors.CodeSpeechFailed, "player closed")
	}
	if clip.Frames() == 0 {
		return nil
	}

	dev, err := p.pickDevice(clip.Channels)
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: clip.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(clip.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]int16, framesPerBuffer*clip.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "open output stream").WithMetadata("device", dev.Name)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "start output stream")
	}
	defer func() { _ = stream.Stop() }()

	for off := 0; off < len(clip.Samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			slog.Debug("playback interrupted", "device", dev.Name)
			return err
		}
		n := copy(buf, clip.Samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "write output stream")
		}
	}
	return nil
}

func (p *Player) pickDevice(channels int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVoiceUnavailable, "list audio devices")
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxOutputChannels < channels || isExcluded(dev.Name, p.excludedDevs) {
			continue
		}
		if classifyDevice(dev.Name) == "virtual" {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVoiceUnavailable, "no output device")
	}
	return dev, nil
}

// Close releases portaudio.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}

// classifyDevice sorts output devices into "virtual" loopback sinks,
// "speaker" devices and everything else ("").
func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "soundflower", "null"} {
		if containsIgnoreCase(name, kw) {
			return "virtual"
		}
	}
	for _, kw := range []string{"speaker", "headphone", "output", "built-in"} {
		if containsIgnoreCase(name, kw) {
			return "speaker"
		}
	}
	return ""
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice reports whether name beats current: real speakers first,
// built-in ones above external ones.
func preferDevice(name, current string) bool {
	nameSpk, currSpk := classifyDevice(name) == "speaker", classifyDevice(current) == "speaker"
	if nameSpk != currSpk {
		return nameSpk
	}
	for _, p := range []string{"macbook", "built-in"} {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
