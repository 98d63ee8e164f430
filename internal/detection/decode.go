package detection

import (
	"encoding/json"
	"log/slog"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

const statusSuccess = "success"

// decodeFrame turns a raw service reply into detections. A reply without a
// success status means "no detections" and is not an error. Items that are
// missing geometry are dropped individually.
func decodeFrame(body []byte) ([]Detection, error) {
	var resp frameResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDetectionFailed, "decode frame response")
	}
	if resp.Status != statusSuccess {
		slog.Debug("recognition service returned no success status", "status", resp.Status, "message", resp.Message)
		return nil, nil
	}

	out := make([]Detection, 0, len(resp.Detections))
	for i, raw := range resp.Detections {
		d, err := decodeDetection(raw)
		if err != nil {
			slog.Debug("skipping malformed detection", "index", i, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeDetection(raw json.RawMessage) (Detection, error) {
	var w wireDetection
	if err := json.Unmarshal(raw, &w); err != nil {
		return Detection{}, apperrors.Wrap(err, apperrors.CodeDetectionMalformed, "decode detection")
	}
	if w.Location == nil {
		return Detection{}, apperrors.New(apperrors.CodeDetectionMalformed, "missing location")
	}
	if !w.Location.Valid() {
		return Detection{}, apperrors.New(apperrors.CodeDetectionMalformed, "invalid bounding box")
	}

	d := Detection{
		Name:           w.Name,
		Classification: ParseClassification(w.Type),
		Box:            *w.Location,
		ImageRef:       w.ImageSrc,
		FaceImage:      w.FaceImage,
	}
	if d.Classification == Unknown {
		d.Gender = ParseGender(w.Gender)
		if d.Name == "" {
			d.Name = UnknownName
		}
	} else if d.Name == "" {
		return Detection{}, apperrors.New(apperrors.CodeDetectionMalformed, "known detection without name")
	}
	return d, nil
}
