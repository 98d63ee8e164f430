package espeak

import (
	"encoding/binary"

	"github.com/novadristi/greeter/internal/audio"
	apperrors "github.com/novadristi/greeter/internal/errors"
)

const wavFormatPCM = 1

// decodeWAV extracts 16-bit PCM from a RIFF/WAVE buffer. espeak-ng writes
// 0xFFFFFFFF sizes when streaming to stdout, so a data chunk that claims
// more than is left is read to the end.
func decodeWAV(b []byte) (audio.Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return audio.Clip{}, apperrors.New(apperrors.CodeSpeechFailed, "synthesizer output is not WAV")
	}

	var (
		clip     audio.Clip
		haveFmt  bool
		bitDepth uint16
	)
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			size = len(b) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return audio.Clip{}, apperrors.New(apperrors.CodeSpeechFailed, "short WAV fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(b[body:]); format != wavFormatPCM {
				return audio.Clip{}, apperrors.Newf(apperrors.CodeSpeechFailed, "unsupported WAV format %d", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bitDepth = binary.LittleEndian.Uint16(b[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return audio.Clip{}, apperrors.New(apperrors.CodeSpeechFailed, "WAV data before fmt")
			}
			if bitDepth != 16 {
				return audio.Clip{}, apperrors.Newf(apperrors.CodeSpeechFailed, "unsupported bit depth %d", bitDepth)
			}
			data := b[body : body+size]
			clip.Samples = make([]int16, len(data)/2)
			for i := range clip.Samples {
				clip.Samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
			}
			return clip, nil
		}

		off = body + size + size%2
	}
	return audio.Clip{}, apperrors.New(apperrors.CodeSpeechFailed, "WAV has no data chunk")
}
