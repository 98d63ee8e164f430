// Package detection defines the per-cycle face detection model and the
// sources that produce it.
package detection

import (
	"context"
	"encoding/json"
	"math"
	"strings"
)

// Classification is who the recognition service thinks a face belongs to.
type Classification string

const (
	Staff    Classification = "staff"
	Customer Classification = "customer"
	Unknown  Classification = "unknown"
)

// ParseClassification maps a wire value onto a Classification. Anything
// unrecognised is treated as Unknown.
func ParseClassification(s string) Classification {
	switch Classification(strings.ToLower(strings.TrimSpace(s))) {
	case Staff:
		return Staff
	case Customer:
		return Customer
	default:
		return Unknown
	}
}

// Known reports whether the classification carries a stable identity.
func (c Classification) Known() bool { return c == Staff || c == Customer }

// Gender is the optional gender estimate for unknown faces.
type Gender string

const (
	GenderNone   Gender = ""
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// ParseGender accepts the service's spelling case-insensitively.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return GenderMale
	case "female":
		return GenderFemale
	default:
		return GenderNone
	}
}

// BoundingBox is expressed in percent of frame.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Valid reports whether the box is finite and not inverted.
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.Top, b.Right, b.Bottom, b.Left} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Right >= b.Left && b.Bottom >= b.Top
}

// UnknownName is the sentinel name the recognition service uses for
// unrecognised faces.
const UnknownName = "Unknown"

// Detection is one face reported for the current cycle.
type Detection struct {
	Name           string         `json:"name"`
	Classification Classification `json:"type"`
	Box            BoundingBox    `json:"location"`
	Gender         Gender         `json:"gender,omitempty"`
	ImageRef       string         `json:"imageSrc,omitempty"`
	FaceImage      []byte         `json:"-"` // optional encoded crop
}

// Source supplies the detections for the current camera frame.
type Source interface {
	Detect(ctx context.Context) ([]Detection, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Detection, error)

// Detect calls f.
func (f SourceFunc) Detect(ctx context.Context) ([]Detection, error) { return f(ctx) }

// frameResponse is the recognition service's reply, shared by the HTTP and
// gRPC transports.
type frameResponse struct {
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Detections []json.RawMessage `json:"detections"`
}

type wireDetection struct {
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	Location  *BoundingBox `json:"location"`
	Gender    string       `json:"gender"`
	ImageSrc  string       `json:"imageSrc"`
	FaceImage []byte       `json:"faceImage"` // base64 in JSON
}
