// Package api exposes the recognition and attendance operations over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/extract"
	"github.com/facetrack/facetrack/pkg/logging"
	"github.com/facetrack/facetrack/pkg/metrics"
	"github.com/facetrack/facetrack/pkg/session"
	"github.com/facetrack/facetrack/pkg/store"
)

// Server wires the HTTP routes to the recognition stack.
type Server struct {
	recognizer *session.Recognizer
	registrar  *enrollment.Registrar
	extractor  extract.SingleExtractor
	identities enrollment.Store
	events     attendance.EventLog

	log *logrus.Entry
}

// NewServer creates an HTTP server over the given components.
func NewServer(recognizer *session.Recognizer, registrar *enrollment.Registrar, extractor extract.SingleExtractor, identities enrollment.Store, events attendance.EventLog) *Server {
	return &Server{
		recognizer: recognizer,
		registrar:  registrar,
		extractor:  extractor,
		identities: identities,
		events:     events,
		log:        logging.Component("api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/recognize", s.handleRecognize)

		r.Route("/identities", func(r chi.Router) {
			r.Get("/", s.handleListIdentities)
			r.Post("/", s.handleCreateIdentity)
			r.Get("/export.csv", s.handleExportIdentities)
			r.Post("/{key}/enroll", s.handleEnroll)
			r.Delete("/{key}", s.handleDeleteIdentity)
		})

		r.Get("/events", s.handleListEvents)
		r.Get("/events/export.csv", s.handleExportEvents)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type recognizeRequest struct {
	// Image is a base64-encoded captured frame.
	Image string `json:"image"`
}

type recognizeResponse struct {
	Recognized bool              `json:"recognized"`
	Identity   string            `json:"identity,omitempty"`
	Name       string            `json:"name,omitempty"`
	Score      float64           `json:"score"`
	Tier       string            `json:"tier"`
	Reason     string            `json:"reason,omitempty"`
	Attempts   int               `json:"attempts"`
	Event      *attendance.Event `json:"event,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64-encoded")
		return
	}

	outcome, err := s.recognizer.RecognizeImage(r.Context(), image)

	var notRecognized *session.NotRecognizedError
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		writeError(w, http.StatusConflict, "recognition already in progress")
		return
	case errors.As(err, &notRecognized):
		writeJSON(w, http.StatusOK, recognizeResponse{
			Recognized: false,
			Score:      notRecognized.Result.Score,
			Tier:       notRecognized.Result.Tier.String(),
			Reason:     notRecognized.Result.Reason,
			Attempts:   notRecognized.Result.Attempts,
			DurationMs: outcome.Duration.Milliseconds(),
		})
		return
	case err != nil:
		s.log.WithError(err).Error("Recognition failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := recognizeResponse{
		Recognized: true,
		Identity:   outcome.Result.Identity.Key,
		Name:       outcome.Result.Identity.DisplayName,
		Score:      outcome.Result.Score,
		Tier:       outcome.Result.Tier.String(),
		Attempts:   outcome.Result.Attempts,
		Event:      outcome.Event,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type identityResponse struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	Enrolled    bool    `json:"enrolled"`
	EnrolledAt  string  `json:"enrolled_at,omitempty"`
	Quality     float64 `json:"quality,omitempty"`
}

func toIdentityResponse(id enrollment.Identity) identityResponse {
	resp := identityResponse{
		Key:         id.Key,
		DisplayName: id.DisplayName,
		Enrolled:    id.HasEmbedding(),
		Quality:     id.Quality,
	}
	if id.HasEmbedding() {
		resp.EnrolledAt = id.EnrolledAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.identities.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]identityResponse, 0, len(identities))
	for _, id := range identities {
		out = append(out, toIdentityResponse(id))
	}
	writeJSON(w, http.StatusOK, out)
}

type createIdentityRequest struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.registrar.CreatePending(r.Context(), req.Key, req.DisplayName)
	switch {
	case errors.Is(err, enrollment.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, "identity already exists")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toIdentityResponse(*id))
}

type enrollRequest struct {
	DisplayName string `json:"display_name"`
	// Image is a base64-encoded enrollment photo; it must contain exactly
	// one face.
	Image string `json:"image,omitempty"`
	// Embedding may supply a precomputed vector instead of an image.
	Embedding []float32 `json:"embedding,omitempty"`
	Reenroll  bool      `json:"reenroll"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	emb, err := s.enrollmentEmbedding(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id, err := s.registrar.Register(r.Context(), key, req.DisplayName, emb, req.Reenroll)
	switch {
	case errors.Is(err, enrollment.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, "identity already enrolled; set reenroll to replace")
		return
	case embedding.IsInvalid(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIdentityResponse(*id))
}

func (s *Server) enrollmentEmbedding(ctx context.Context, req enrollRequest) (embedding.Embedding, error) {
	if len(req.Embedding) > 0 {
		raw := embedding.Embedding{Vector: req.Embedding}
		emb := embedding.Normalize(raw)
		emb.Quality = embedding.QualityScore(raw)
		return emb, nil
	}

	if req.Image == "" {
		return embedding.Embedding{}, fmt.Errorf("either image or embedding is required")
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("image must be base64-encoded")
	}
	return s.extractor.ExtractSingle(ctx, image)
}

func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "deletion cascades to attendance events; pass confirm=true")
		return
	}

	err := s.identities.Delete(r.Context(), enrollment.NormalizeKey(key))
	switch {
	case errors.Is(err, enrollment.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "identity not found")
		return
	case err != nil:
		writeStoreError(w, err)
		return
	}

	s.log.Infof("Deleted identity %s and its events", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.events.ListByDateRange(r.Context(), start, end)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.events.ListByDateRange(r.Context(), start, end)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	identities, err := s.identities.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	names := make(map[string]string, len(identities))
	for _, id := range identities {
		names[id.Key] = id.DisplayName
	}

	filename := fmt.Sprintf("attendance_%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := store.WriteEventsCSV(w, events, names); err != nil {
		s.log.WithError(err).Error("CSV export failed")
	}
}

func (s *Server) handleExportIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.identities.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="identities.csv"`)
	if err := store.WriteIdentitiesCSV(w, identities); err != nil {
		s.log.WithError(err).Error("CSV export failed")
	}
}

type statsResponse struct {
	attendance.Stats
	Enrolled int `json:"enrolled"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.events.ListByDateRange(r.Context(), start, end)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	active, err := s.identities.ListEnrolled(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Stats:    attendance.Summarize(events),
		Enrolled: len(active),
	})
}

// parseDateRange reads from/to query parameters as RFC 3339 timestamps or
// plain dates. Defaults cover the current day.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24*time.Hour - time.Nanosecond)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := parseTimeParam(v, false)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from parameter: %s", v)
		}
		start = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := parseTimeParam(v, true)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to parameter: %s", v)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not precede from")
	}
	return start, end, nil
}

func parseTimeParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if store.IsUnavailable(err) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
