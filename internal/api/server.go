package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pubflow/internal/calendar"
	"pubflow/internal/domain"
	"pubflow/internal/scheduler"
	"pubflow/internal/store"
)

// Planner is the part of the planning service the API drives.
type Planner interface {
	PlanPending(ctx context.Context, now time.Time) (domain.RunSummary, error)
	NextRun(from time.Time) (time.Time, error)
}

type Server struct {
	r       *chi.Mux
	repo    store.Repository
	planner Planner
	cal     *calendar.Calendar
	logger  zerolog.Logger
	now     func() time.Time
}

func NewServer(repo store.Repository, planner Planner, cal *calendar.Calendar, logger zerolog.Logger) http.Handler {
	return NewServerWithDebug(repo, planner, cal, logger, false)
}

func NewServerWithDebug(repo store.Repository, planner Planner, cal *calendar.Calendar, logger zerolog.Logger, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, repo: repo, planner: planner, cal: cal, logger: logger, now: time.Now}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/drafts", s.addDraft)
	r.Get("/api/drafts", s.listDrafts)
	r.Post("/api/runs", s.planNow)
	r.Get("/api/runs", s.listRuns)
	r.Get("/api/runs/{id}", s.getRun)
	r.Get("/api/runs/{id}/assignments", s.listAssignments)
	r.Get("/api/schedule", s.schedule)
	r.Post("/api/preview", s.preview)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type draftReq struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	SourceRef           string     `json:"source_ref"`
	OriginalCreatedAt   *time.Time `json:"original_created_at"`
	OriginalPublishedAt *time.Time `json:"original_published_at"`
}

type idResp struct {
	ID string `json:"id"`
}

func (s *Server) addDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	item := domain.Item{ID: req.ID, Title: req.Title, SourceRef: req.SourceRef}
	if req.OriginalCreatedAt != nil {
		item.OriginalCreatedAt = *req.OriginalCreatedAt
	}
	if req.OriginalPublishedAt != nil {
		item.OriginalPublishedAt = *req.OriginalPublishedAt
	}
	id, err := s.repo.AddDraft(r.Context(), item)
	if errors.Is(err, store.ErrDuplicate) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, idResp{ID: id})
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state != "" && state != store.StateDraft && state != store.StateScheduled {
		http.Error(w, "state must be draft or scheduled", http.StatusBadRequest)
		return
	}
	drafts, err := s.repo.ListDrafts(r.Context(), state, limitParam(r, 100))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(drafts))
}

func (s *Server) planNow(w http.ResponseWriter, r *http.Request) {
	summary, err := s.planner.PlanPending(r.Context(), s.now())
	var cfgErr *domain.ConfigError
	switch {
	case errors.Is(err, scheduler.ErrNothingToPlan):
		writeJSON(w, http.StatusOK, map[string]string{"message": err.Error()})
	case errors.As(err, &cfgErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		s.logger.Error().Err(err).Msg("planning pass failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, summary)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.repo.ListRuns(r.Context(), limitParam(r, 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.repo.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	as, err := s.repo.ListAssignments(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(as))
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	next, err := s.planner.NextRun(s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_run": next.Format(time.RFC3339)})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := BuildPreview(s.cal, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		return v
	}
	return def
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
