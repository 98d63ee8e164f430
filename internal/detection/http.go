package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

// HTTPSource polls the recognition service over HTTP. With an empty stream
// URL it asks for the ambient webcam frame; otherwise it asks the service to
// pull a frame from the named IP camera.
type HTTPSource struct {
	baseURL   string
	streamURL string
	client    *http.Client
}

// NewHTTPSource creates a source for the service at baseURL.
func NewHTTPSource(baseURL, streamURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		streamURL: streamURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Detect fetches and decodes one frame's detections.
func (s *HTTPSource) Detect(ctx context.Context) ([]Detection, error) {
	path, payload := "/process-frame", map[string]string{}
	if s.streamURL != "" {
		path, payload = "/process-ip-camera", map[string]string{"camera_url": s.streamURL}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDetectionFailed, "recognition request").
			WithMetadata("path", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDetectionFailed, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, apperrors.New(apperrors.CodeDetectionFailed, fmt.Sprintf("recognition service status %d", resp.StatusCode)).
			WithMetadata("path", path)
	}
	return decodeFrame(data)
}
