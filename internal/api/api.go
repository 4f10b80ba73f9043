package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/ingest"
	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
	"github.com/joescharf/prt/internal/workflow"
)

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	pipeline *ingest.Pipeline
	workflow *workflow.Engine
	stats    *stats.Service
	log      *zap.Logger
	timeout  time.Duration
}

// NewServer creates a new API server. A nil logger disables access logging.
func NewServer(s store.Store, p *ingest.Pipeline, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:    s,
		pipeline: p,
		workflow: workflow.New(s, log),
		stats:    stats.NewService(s),
		log:      log,
	}
}

// WithTimeout bounds every request's context.
func (s *Server) WithTimeout(d time.Duration) *Server {
	s.timeout = d
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", s.listProjects)
		r.Post("/projects", s.createProject)
		r.Get("/projects/{id}", s.getProject)
		r.Put("/projects/{id}", s.updateProject)
		r.Delete("/projects/{id}", s.deleteProject)
		r.Get("/projects/{id}/has-prs", s.projectHasPRs)

		r.Get("/prs", s.listPullRequests)
		r.Post("/prs", s.ingestPullRequest)
		r.Post("/prs/refresh", s.refreshAll)
		r.Get("/prs/{id}", s.getPullRequest)
		r.Post("/prs/{id}/transition", s.transition)
		r.Post("/prs/{id}/approve", s.approve)
		r.Put("/prs/{id}/project", s.assignProject)
		r.Post("/prs/{id}/refresh", s.refreshPullRequest)
		r.Get("/prs/{id}/history", s.history)

		r.Get("/members", s.listMembers)

		r.Get("/stats/counts", s.statusCounts)
		r.Get("/stats/ranking", s.ranking)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = msg
	writeJSON(w, status, e)
}

// Error codes returned in the "code" field.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeInvalidReference     = "INVALID_REFERENCE"
	CodeNotFound             = "NOT_FOUND"
	CodeDuplicateConflict    = "DUPLICATE_CONFLICT"
	CodeProjectInUse         = "PROJECT_IN_USE"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidScore         = "INVALID_SCORE"
	CodeUpstreamUnauthorized = "UPSTREAM_UNAUTHORIZED"
	CodeUpstreamNotFound     = "UPSTREAM_NOT_FOUND"
	CodeUpstreamRateLimited  = "UPSTREAM_RATE_LIMITED"
	CodeUpstreamNetwork      = "UPSTREAM_NETWORK"
	CodeInternal             = "INTERNAL"
)

// errorStatus maps a domain error to an HTTP status and code.
func errorStatus(err error) (int, string) {
	if kind, ok := models.UpstreamKindOf(err); ok {
		switch kind {
		case models.UpstreamUnauthorized:
			return http.StatusUnauthorized, CodeUpstreamUnauthorized
		case models.UpstreamNotFound:
			return http.StatusNotFound, CodeUpstreamNotFound
		case models.UpstreamRateLimited:
			return http.StatusTooManyRequests, CodeUpstreamRateLimited
		default:
			return http.StatusBadGateway, CodeUpstreamNetwork
		}
	}
	switch {
	case errors.Is(err, models.ErrInvalidReference):
		return http.StatusBadRequest, CodeInvalidReference
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrDuplicateConflict):
		return http.StatusConflict, CodeDuplicateConflict
	case errors.Is(err, models.ErrProjectInUse):
		return http.StatusConflict, CodeProjectInUse
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, models.ErrInvalidScore):
		return http.StatusBadRequest, CodeInvalidScore
	}
	return http.StatusInternalServerError, CodeInternal
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeAPIError(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, msg string) {
	writeAPIError(w, http.StatusBadRequest, CodeBadRequest, msg)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// --- Projects ---

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.Name == nil || *req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	p := &models.Project{Name: *req.Name}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	existing, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	// Only keys present in the body are applied.
	if req.Name != nil && *req.Name != "" {
		existing.Name = *req.Name
	}
	if req.Description != nil {
		existing.Description = *req.Description
	}

	if err := s.store.UpdateProject(r.Context(), existing); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) projectHasPRs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	has, err := s.stats.ProjectHasPullRequests(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_pull_requests": has})
}

// --- Pull requests ---

func (s *Server) listPullRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PullRequestFilter{
		IncludeArchived: q.Get("all") == "true",
		Unassigned:      q.Get("unassigned") == "true",
	}
	if raw := q.Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Status = st
	}
	if raw := q.Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid project_id")
			return
		}
		filter.ProjectID = &id
	}

	prs, err := s.store.ListPullRequests(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prs)
}

func (s *Server) getPullRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	pr, err := s.store.GetPullRequest(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type ingestRequest struct {
	Reference string `json:"reference"`
	ProjectID *int64 `json:"project_id"`
}

func (s *Server) ingestPullRequest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	res, err := s.pipeline.Ingest(r.Context(), req.Reference, req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) refreshPullRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, changed, err := s.pipeline.Refresh(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pull_request": res.PullRequest, "changed": changed})
}

func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.RefreshAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	st, err := models.ParseStatus(req.Status)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, CodeInvalidTransition, err.Error())
		return
	}
	pr, err := s.workflow.Transition(r.Context(), id, st)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type approveRequest struct {
	Score *int `json:"score"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.Score == nil {
		writeAPIError(w, http.StatusBadRequest, CodeInvalidScore, "score is required")
		return
	}
	pr, err := s.workflow.ApproveWithScore(r.Context(), id, *req.Score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type assignRequest struct {
	ProjectID *int64 `json:"project_id"`
}

func (s *Server) assignProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	pr, err := s.workflow.AssignProject(r.Context(), id, req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := s.store.GetPullRequest(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.store.ListReviewHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Members & stats ---

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListTeamMembers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) statusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stats.StatusCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "total": stats.Total(counts)})
}

func (s *Server) ranking(w http.ResponseWriter, r *http.Request) {
	ranks, err := s.stats.Ranking(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranks)
}
