// Package server provides the dashboard HTTP API and WebSocket feed
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/novadristi/greeter/internal/detection"
	apperrors "github.com/novadristi/greeter/internal/errors"
	"github.com/novadristi/greeter/internal/orchestrator/board"
	"github.com/novadristi/greeter/internal/orchestrator/sightings"
	"github.com/novadristi/greeter/internal/profile"
	"github.com/novadristi/greeter/internal/speech"
	"github.com/novadristi/greeter/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type GreetingMessage struct {
	Type string `json:"type"`
	board.Record
}

type SightingsMessage struct {
	Type      string               `json:"type"`
	Sightings []sightings.Sighting `json:"sightings"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Profiles is the part of the Profile Store the API exposes.
type Profiles interface {
	Create(ctx context.Context, p profile.Profile) (profile.Profile, error)
	Get(ctx context.Context, c profile.Category, id string) (profile.Profile, error)
	Delete(ctx context.Context, c profile.Category, id string) error
	List(ctx context.Context, c profile.Category) ([]profile.Profile, error)
	History(ctx context.Context, id string) ([]profile.Visit, error)
}

// Voices lists speech voices and the ones the scheduler would pick.
type Voices interface {
	Voices(ctx context.Context) []speech.Voice
	Preferred(ctx context.Context, gender detection.Gender) *speech.Voice
}

// Deps are the server's data sources. Profiles and Voices are optional.
type Deps struct {
	Board     *board.Board
	Sightings *sightings.Buffer
	Profiles  Profiles
	Voices    Voices
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	deps   Deps
	mu     sync.RWMutex
	conns  map[*websocket.Conn]struct{}
	stopCh chan struct{}
	once   sync.Once
}

// New creates a server and starts forwarding board and sighting changes
// to websocket clients.
func New(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		conns:  make(map[*websocket.Conn]struct{}),
		stopCh: make(chan struct{}),
	}
	go s.broadcastGreetings()
	go s.broadcastSightings()
	return s
}

// Close stops the broadcasters.
func (s *Server) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(trace.Middleware)
	r.Use(corsMiddleware)

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/greetings", s.handleGreetings)
		r.Get("/sightings", s.handleSightings)
		r.Delete("/sightings/{id}", s.handleDeleteSighting)
		r.Get("/voices", s.handleVoices)

		r.Route("/profiles/{category}", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleCreateProfile)
			r.Get("/{id}", s.handleGetProfile)
			r.Delete("/{id}", s.handleDeleteProfile)
			r.Get("/{id}/visits", s.handleVisits)
		})
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError maps err onto an HTTP status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.CodeNotFound:
			status = http.StatusNotFound
		case apperrors.CodeInvalidArgument:
			status = http.StatusBadRequest
		case apperrors.CodeUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleGreetings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Board.Snapshot())
}

func (s *Server) handleSightings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Sightings.List())
}

func (s *Server) handleDeleteSighting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Sightings.Remove(id) {
		respondError(w, r, apperrors.Newf(apperrors.CodeNotFound, "sighting %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type voicesResponse struct {
	Voices    []speech.Voice           `json:"voices"`
	Preferred map[string]*speech.Voice `json:"preferred"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voices == nil {
		respondError(w, r, apperrors.New(apperrors.CodeUnavailable, "no speech engine"))
		return
	}
	ctx := r.Context()
	respondJSON(w, http.StatusOK, voicesResponse{
		Voices: s.deps.Voices.Voices(ctx),
		Preferred: map[string]*speech.Voice{
			"male":    s.deps.Voices.Preferred(ctx, detection.GenderMale),
			"female":  s.deps.Voices.Preferred(ctx, detection.GenderFemale),
			"default": s.deps.Voices.Preferred(ctx, detection.GenderNone),
		},
	})
}

// profileCategory resolves the {category} parameter and checks a store is
// configured.
func (s *Server) profileCategory(w http.ResponseWriter, r *http.Request) (profile.Category, bool) {
	if s.deps.Profiles == nil {
		respondError(w, r, apperrors.New(apperrors.CodeUnavailable, "profile store disabled"))
		return "", false
	}
	c, err := profile.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		respondError(w, r, err)
		return "", false
	}
	return c, true
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	c, ok := s.profileCategory(w, r)
	if !ok {
		return
	}
	list, err := s.deps.Profiles.List(r.Context(), c)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []profile.Profile{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.profileCategory(w, r)
	if !ok {
		return
	}
	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body"))
		return
	}
	p.Category = c
	created, err := s.deps.Profiles.Create(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("profile created", "category", c, "id", created.ID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.profileCategory(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Profiles.Get(r.Context(), c, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.profileCategory(w, r)
	if !ok {
		return
	}
	if err := s.deps.Profiles.Delete(r.Context(), c, chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	c, ok := s.profileCategory(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Profiles.Get(r.Context(), c, id); err != nil {
		respondError(w, r, err)
		return
	}
	visits, err := s.deps.Profiles.History(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if visits == nil {
		visits = []profile.Visit{}
	}
	respondJSON(w, http.StatusOK, visits)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	// Current sightings first so a new dashboard is not empty.
	if err := s.write(ctx, conn, SightingsMessage{Type: "sightings", Sightings: s.deps.Sightings.List()}); err != nil {
		return
	}

	rl := &rateLimiter{}
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}
		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = s.write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}
		switch msg.Type {
		case "ping":
			_ = s.write(ctx, conn, Message{Type: "pong"})
		case "greetings":
			for _, rec := range s.deps.Board.Snapshot() {
				_ = s.write(ctx, conn, GreetingMessage{Type: "greeting", Record: rec})
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			_ = s.write(context.Background(), c, msg)
		}(conn)
	}
}

func (s *Server) broadcastGreetings() {
	for {
		select {
		case <-s.stopCh:
			return
		case rec := <-s.deps.Board.Events():
			s.broadcast(GreetingMessage{Type: "greeting", Record: rec})
		}
	}
}

func (s *Server) broadcastSightings() {
	for {
		select {
		case <-s.stopCh:
			return
		case snap := <-s.deps.Sightings.Changes():
			s.broadcast(SightingsMessage{Type: "sightings", Sightings: snap})
		}
	}
}
