package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		in   string
		want Classification
	}{
		{"staff", Staff},
		{"Customer", Customer},
		{"unknown", Unknown},
		{"visitor", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		if got := ParseClassification(tt.in); got != tt.want {
			t.Errorf("ParseClassification(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseGender(t *testing.T) {
	if ParseGender("Female") != GenderFemale || ParseGender("male") != GenderMale || ParseGender("x") != GenderNone {
		t.Error("ParseGender mismatch")
	}
}

func TestBoundingBoxValid(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		want bool
	}{
		{"normal", BoundingBox{Top: 10, Right: 40, Bottom: 50, Left: 20}, true},
		{"degenerate", BoundingBox{Top: 10, Right: 20, Bottom: 10, Left: 20}, true},
		{"inverted x", BoundingBox{Top: 10, Right: 10, Bottom: 50, Left: 20}, false},
		{"inverted y", BoundingBox{Top: 60, Right: 40, Bottom: 50, Left: 20}, false},
		{"nan", BoundingBox{Top: math.NaN(), Right: 40, Bottom: 50, Left: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	body := `{"status":"success","detections":[
		{"name":"Alice","type":"staff","location":{"top":10,"right":30,"bottom":40,"left":12}},
		{"name":"Unknown","type":"unknown","gender":"Female","location":{"top":20.4,"right":60,"bottom":50,"left":33.6}},
		{"name":"Broken","type":"customer"},
		{"name":"Flipped","type":"customer","location":{"top":50,"right":10,"bottom":40,"left":30}},
		{"name":"","type":"customer","location":{"top":1,"right":2,"bottom":3,"left":1}}
	]}`

	got, err := decodeFrame([]byte(body))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}

	want := []Detection{
		{Name: "Alice", Classification: Staff, Box: BoundingBox{Top: 10, Right: 30, Bottom: 40, Left: 12}},
		{Name: "Unknown", Classification: Unknown, Gender: GenderFemale, Box: BoundingBox{Top: 20.4, Right: 60, Bottom: 50, Left: 33.6}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameNonSuccess(t *testing.T) {
	got, err := decodeFrame([]byte(`{"status":"error","message":"camera offline"}`))
	if err != nil {
		t.Fatalf("non-success status should not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d detections, want 0", len(got))
	}
}

func TestDecodeFrameGarbage(t *testing.T) {
	_, err := decodeFrame([]byte(`not json`))
	if !apperrors.IsCode(err, apperrors.CodeDetectionFailed) {
		t.Errorf("err = %v, want DETECTION_FAILED", err)
	}
}

func TestDecodeFaceImage(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFF}
	body, _ := json.Marshal(map[string]any{
		"status": "success",
		"detections": []map[string]any{{
			"name": "Unknown", "type": "unknown",
			"location":  map[string]float64{"top": 1, "right": 2, "bottom": 3, "left": 1},
			"faceImage": base64.StdEncoding.EncodeToString(img),
		}},
	})
	got, err := decodeFrame(body)
	if err != nil || len(got) != 1 {
		t.Fatalf("decodeFrame = %v, %v", got, err)
	}
	if diff := cmp.Diff(img, got[0].FaceImage); diff != "" {
		t.Errorf("face image mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPSourceWebcam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/process-frame" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","detections":[{"name":"Bob","type":"customer","location":{"top":1,"right":5,"bottom":6,"left":2}}]}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "", time.Second)
	got, err := src.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Bob" || got[0].Classification != Customer {
		t.Errorf("Detect = %+v", got)
	}
}

func TestHTTPSourceIPCamera(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-ip-camera" {
			t.Errorf("path = %s, want /process-ip-camera", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["camera_url"] != "rtsp://lobby" {
			t.Errorf("camera_url = %q", body["camera_url"])
		}
		_, _ = w.Write([]byte(`{"status":"success","detections":[]}`))
	}))
	defer srv.Close()

	got, err := NewHTTPSource(srv.URL, "rtsp://lobby", time.Second).Detect(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("Detect = %v, %v", got, err)
	}
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "", time.Second).Detect(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeDetectionFailed) {
		t.Errorf("err = %v, want DETECTION_FAILED", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("fetch failures should be retryable")
	}
}

func TestDecodeStruct(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"status": "success",
		"detections": []any{
			map[string]any{
				"name": "Unknown", "type": "unknown", "gender": "Male",
				"location": map[string]any{"top": 12.0, "right": 30.0, "bottom": 40.0, "left": 15.0},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeStruct(resp)
	if err != nil {
		t.Fatalf("decodeStruct: %v", err)
	}
	want := []Detection{{
		Name: "Unknown", Classification: Unknown, Gender: GenderMale,
		Box: BoundingBox{Top: 12, Right: 30, Bottom: 40, Left: 15},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSourceFunc(t *testing.T) {
	var src Source = SourceFunc(func(context.Context) ([]Detection, error) {
		return []Detection{{Name: "x"}}, nil
	})
	got, _ := src.Detect(context.Background())
	if len(got) != 1 {
		t.Errorf("got %d", len(got))
	}
}
