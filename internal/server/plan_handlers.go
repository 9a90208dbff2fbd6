package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/instance"
	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/server/middleware"
)

// maxBodySize bounds request bodies.
const maxBodySize = 8 << 20

// planRequest is an instance to solve and the solver options overriding the
// configured ones.
type planRequest struct {
	Instance      instance.Document `json:"instance"`
	Optimize      *bool             `json:"optimize,omitempty"`
	Repair        *bool             `json:"repair,omitempty"`
	TimeLimit     string            `json:"time_limit,omitempty"`
	SolutionLimit int               `json:"solution_limit,omitempty"`
}

// decode converts the request into an instance and its parameters.
func (s *Server) decode(req planRequest) (*scheduler.Instance, scheduler.Parameters, error) {
	params := s.config.Solver.Parameters()
	if req.Optimize != nil {
		params.Optimize = *req.Optimize
	}
	if req.Repair != nil {
		params.Repair = *req.Repair
	}
	if req.TimeLimit != "" {
		d, err := time.ParseDuration(req.TimeLimit)
		if err != nil {
			return nil, params, fmt.Errorf("time_limit: %w: %w", domain.ErrInvalidArgument, err)
		}
		params.TimeLimit = d
	}
	if req.SolutionLimit > 0 {
		params.SolutionLimit = req.SolutionLimit
	}

	inst, err := s.registry.FromDocument(req.Instance)
	if err != nil {
		return nil, params, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	return inst, params, nil
}

// createPlan solves an instance and stores the resulting plan. An instance
// that needs no change gives 200 with an empty body.
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	inst, params, err := s.decode(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.engine.Plan(r.Context(), *inst, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"plan": nil, "message": "no reconfiguration needed"})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PlanFilter{
		Status: domain.PlanStatus(q.Get("status")),
		Source: domain.PlanSource(q.Get("source")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, fmt.Errorf("limit %q: %w", v, domain.ErrInvalidArgument))
			return
		}
		filter.Limit = limit
	}

	plans, err := s.repos.Plans.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "total": len(plans)})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repos.Plans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Approve(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) rejectPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &body); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "rejected by " + caller(r)
	}
	rec, err := s.engine.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) applyPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Apply(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// runDRS triggers a DRS run outside the schedule.
func (s *Server) runDRS(w http.ResponseWriter, r *http.Request) {
	if !s.engine.IsLeader() {
		s.writeError(w, domain.ErrNotLeader)
		return
	}
	rec, err := s.engine.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"plan": nil, "message": "inventory is balanced"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) drsStatus(w http.ResponseWriter, r *http.Request) {
	last, outcome := s.engine.LastRun()
	resp := map[string]any{
		"enabled":          s.config.DRS.Enabled,
		"automation_level": s.config.DRS.AutomationLevel,
		"interval":         s.config.DRS.Interval.String(),
		"running":          s.engine.IsRunning(),
		"leader":           s.engine.IsLeader(),
		"last_outcome":     outcome,
	}
	if !last.IsZero() {
		resp["last_run"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// caller names the authenticated subject, "api" without authentication.
func caller(r *http.Request) string {
	if sub := middleware.GetSubject(r.Context()); sub != "" {
		return sub
	}
	return "api"
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request: %w: %w", domain.ErrInvalidArgument, err)
	}
	return nil
}

// writeError maps an error to its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var buildErr *scheduler.BuildError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStalePlan):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotLeader):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidArgument), errors.As(err, &buildErr):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
