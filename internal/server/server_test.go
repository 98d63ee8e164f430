package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"

	"github.com/novadristi/greeter/internal/detection"
	"github.com/novadristi/greeter/internal/orchestrator/board"
	"github.com/novadristi/greeter/internal/orchestrator/sightings"
	"github.com/novadristi/greeter/internal/profile"
	"github.com/novadristi/greeter/internal/speech"
)

type fixture struct {
	srv       *Server
	handler   http.Handler
	board     *board.Board
	sightings *sightings.Buffer
	profiles  *profile.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := profile.Open(profile.Options{InMemory: true})
	if err != nil {
		t.Fatalf("profile.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engine := speech.NewLogEngine(
		speech.Voice{Name: "Google US English Male", Locale: "en-US"},
		speech.Voice{Name: "Microsoft Zira Female", Locale: "en-US"},
	)
	sched := speech.NewScheduler(engine)
	t.Cleanup(sched.Close)

	f := &fixture{
		board:     board.New(0, 8),
		sightings: sightings.NewBuffer(0, 0),
		profiles:  store,
	}
	f.srv = New(Deps{Board: f.board, Sightings: f.sightings, Profiles: store, Voices: sched})
	t.Cleanup(f.srv.Close)
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, DELETE, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin on GET = %q, want %q", v, "*")
	}
}

func TestGreetings(t *testing.T) {
	f := newFixture(t)
	f.board.Put("Alice", "Hello, Alice!")

	rec := f.do(t, http.MethodGet, "/api/greetings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[[]board.Record](t, rec)
	if len(got) != 1 || got[0].Key != "Alice" || got[0].Text != "Hello, Alice!" {
		t.Errorf("greetings = %+v", got)
	}
	if rec.Header().Get("x-trace-id") == "" {
		t.Error("response should carry a trace id")
	}
}

func TestSightingsListAndDelete(t *testing.T) {
	f := newFixture(t)
	f.sightings.Refresh([]detection.Detection{{
		Name:           detection.UnknownName,
		Classification: detection.Unknown,
		Box:            detection.BoundingBox{Top: 10, Left: 10, Right: 20, Bottom: 20},
	}})

	list := decode[[]sightings.Sighting](t, f.do(t, http.MethodGet, "/api/sightings", ""))
	if len(list) != 1 {
		t.Fatalf("sightings = %d, want 1", len(list))
	}

	if rec := f.do(t, http.MethodDelete, "/api/sightings/"+list[0].ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/sightings/"+list[0].ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	if n := len(f.sightings.List()); n != 0 {
		t.Errorf("sightings after delete = %d, want 0", n)
	}
}

func TestVoices(t *testing.T) {
	f := newFixture(t)
	got := decode[voicesResponse](t, f.do(t, http.MethodGet, "/api/voices", ""))

	if len(got.Voices) != 2 {
		t.Fatalf("voices = %d, want 2", len(got.Voices))
	}
	want := map[string]string{
		"male":    "Google US English Male",
		"female":  "Microsoft Zira Female",
		"default": "Google US English Male",
	}
	for k, name := range want {
		if v := got.Preferred[k]; v == nil || v.Name != name {
			t.Errorf("preferred[%s] = %+v, want %s", k, v, name)
		}
	}
}

func TestVoicesWithoutEngine(t *testing.T) {
	s := New(Deps{Board: board.New(0, 1), Sightings: sightings.NewBuffer(0, 0)})
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/voices", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestProfileLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/profiles/staff", `{"name":"Jane Doe","phone":"555-0100"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	created := decode[profile.Profile](t, rec)
	if created.ID != "jane_doe" || created.Category != profile.Staff {
		t.Errorf("created = %+v", created)
	}

	if rec := f.do(t, http.MethodPost, "/api/profiles/staff", `{"name":"Jane Doe"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate status = %d, want 400", rec.Code)
	}

	got := decode[profile.Profile](t, f.do(t, http.MethodGet, "/api/profiles/staff/jane_doe", ""))
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("get mismatch (-want +got):\n%s", diff)
	}

	list := decode[[]profile.Profile](t, f.do(t, http.MethodGet, "/api/profiles/staff", ""))
	if len(list) != 1 {
		t.Errorf("list = %d, want 1", len(list))
	}
	customers := decode[[]profile.Profile](t, f.do(t, http.MethodGet, "/api/profiles/customers", ""))
	if len(customers) != 0 {
		t.Errorf("customers = %d, want 0", len(customers))
	}

	if _, err := f.profiles.RecordVisit(context.Background(), profile.Staff, "jane_doe", "Jane Doe"); err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	visits := decode[[]profile.Visit](t, f.do(t, http.MethodGet, "/api/profiles/staff/jane_doe/visits", ""))
	if len(visits) != 1 || visits[0].ProfileID != "jane_doe" {
		t.Errorf("visits = %+v", visits)
	}

	if rec := f.do(t, http.MethodDelete, "/api/profiles/staff/jane_doe", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/profiles/staff/jane_doe", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestProfileErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name         string
		method, path string
		body         string
		want         int
	}{
		{"unknown category", http.MethodGet, "/api/profiles/visitors", "", http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/profiles/staff", "{", http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/profiles/staff", `{"phone":"1"}`, http.StatusBadRequest},
		{"missing profile", http.MethodGet, "/api/profiles/customer/nobody", "", http.StatusNotFound},
		{"visits of missing profile", http.MethodGet, "/api/profiles/customer/nobody/visits", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/profiles/customer/nobody", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("error body should carry a message")
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit allowed")
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var first map[string]any
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first["type"] != "sightings" {
		t.Fatalf("first message type = %v, want sightings", first["type"])
	}

	f.board.Put("Alice", "Hello, Alice!")

	var msg map[string]any
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if msg["type"] != "greeting" || msg["text"] != "Hello, Alice!" || msg["key"] != "Alice" {
		t.Errorf("greeting message = %v", msg)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]any
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Errorf("reply type = %v, want pong", pong["type"])
	}
}
