package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripopt/internal/export"
	"tripopt/internal/geo"
	"tripopt/internal/metrics"
	"tripopt/internal/model"
	"tripopt/internal/opt"
	"tripopt/internal/planner"
	"tripopt/internal/store"
)

// progressEvery throttles ga.progress events to one per this many generations.
const progressEvery = 10

// OptimizeHandler handles POST /v1/optimize. Synchronous requests return the
// solved plan; async requests return 202 with the plan id to follow.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimize" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	if err := s.Planner.Validate(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}

	if req.Async {
		s.optimizeAsync(w, r, req)
		return
	}
	plan, runs, err := s.Planner.Run(r.Context(), req, nil)
	if err != nil {
		s.planError(w, r, err)
		return
	}
	plan, err = s.Store.CreatePlan(r.Context(), plan)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save plan failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.SaveRunMetrics(r.Context(), plan.ID, runs); err != nil {
		s.Log.Warn("save run metrics", zap.String("planId", plan.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) optimizeAsync(w http.ResponseWriter, r *http.Request, req model.OptimizeRequest) {
	mode, _ := geo.ParseMode(req.Mode)
	pending, err := s.Store.CreatePlan(r.Context(), model.Plan{
		Status:    model.PlanRunning,
		Mode:      string(mode),
		Waypoints: req.Waypoints,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save plan failed", err.Error(), r.URL.Path)
		return
	}
	s.wg.Add(1)
	metrics.PlansInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.PlansInFlight.Dec()
		s.solve(context.WithoutCancel(r.Context()), pending, req)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"planId": pending.ID,
		"status": pending.Status,
		"links": map[string]string{
			"self":   "/v1/plans/" + pending.ID,
			"events": "/v1/plans/" + pending.ID + "/events/stream",
			"ws":     "/v1/plans/" + pending.ID + "/ws",
		},
	})
}

// solve runs an async plan to completion and publishes its progress.
func (s *Server) solve(ctx context.Context, pending model.Plan, req model.OptimizeRequest) {
	log := s.Log.With(zap.String("planId", pending.ID))
	progress := func(p opt.Progress) {
		if p.Generation == 1 || p.Generation%progressEvery == 0 || p.Generation == p.Generations {
			s.Broker.Publish(pending.ID, Event{Type: EventGAProgress, Data: map[string]any{
				"planId":         pending.ID,
				"generation":     p.Generation,
				"generations":    p.Generations,
				"bestFitness":    p.BestFitness,
				"bestDistanceKm": p.BestDistance,
			}})
		}
	}
	plan, runs, err := s.Planner.Run(ctx, req, progress)
	plan.ID, plan.CreatedAt = pending.ID, pending.CreatedAt
	if err != nil {
		plan = pending
		plan.Status, plan.Error = model.PlanFailed, err.Error()
	}
	if uerr := s.Store.UpdatePlan(ctx, plan); uerr != nil {
		log.Error("update async plan", zap.Error(uerr))
	}
	if len(runs) > 0 {
		if merr := s.Store.SaveRunMetrics(ctx, plan.ID, runs); merr != nil {
			log.Warn("save run metrics", zap.Error(merr))
		}
	}
	if err != nil {
		log.Warn("async plan failed", zap.Error(err))
		s.Broker.Publish(plan.ID, Event{Type: EventPlanFailed, Data: map[string]any{"planId": plan.ID, "error": err.Error()}})
		return
	}
	log.Info("async plan completed", zap.Int("candidates", len(plan.Candidates)), zap.Int("defaultIndex", plan.DefaultIndex))
	s.Broker.Publish(plan.ID, completedEvent(plan))
}

func completedEvent(p model.Plan) Event {
	return Event{Type: EventPlanCompleted, Data: map[string]any{
		"planId":       p.ID,
		"candidates":   len(p.Candidates),
		"defaultIndex": p.DefaultIndex,
		"warnings":     p.Warnings,
	}}
}

func (s *Server) planError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, planner.ErrInvalidRequest) {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Optimization failed", err.Error(), r.URL.Path)
}

// OptimizerConfigHandler returns the effective planner defaults.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	cfg := s.Planner.Config()
	modes := map[string]any{}
	for _, m := range geo.Modes() {
		modes[string(m)] = m.Profile()
	}
	writeJSON(w, http.StatusOK, map[string]any{"defaults": map[string]any{
		"defaultMode":        geo.DefaultMode,
		"modes":              modes,
		"bufferMin":          geo.BufferMin,
		"sentinelDistanceKm": opt.SentinelDistanceKm,
		"smallTripMaxStops":  cfg.SmallTripMaxStops,
		"externalTimeoutMs":  cfg.ExternalTimeout.Milliseconds(),
		"externalOptimizer":  s.Planner.HasExternal(),
		"twoOptIterations":   cfg.TwoOptIterations,
		"ga":                 cfg.GA,
		"maxWaypoints":       maxWaypoints,
	}})
}

type planSummary struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	Mode         string    `json:"mode"`
	Waypoints    int       `json:"waypoints"`
	Candidates   int       `json:"candidates"`
	DefaultIndex int       `json:"defaultIndex"`
	Selected     *int      `json:"selectedIndex,omitempty"`
}

// PlansIndexHandler handles GET /v1/plans.
func (s *Server) PlansIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/plans" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		limit = n
	}
	plans, next, err := s.Store.ListPlans(r.Context(), cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
		return
	}
	items := make([]planSummary, len(plans))
	for i, p := range plans {
		items[i] = planSummary{
			ID: p.ID, Status: p.Status, CreatedAt: p.CreatedAt, Mode: p.Mode,
			Waypoints: len(p.Waypoints), Candidates: len(p.Candidates),
			DefaultIndex: p.DefaultIndex, Selected: p.SelectedIndex,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// PlanByIDHandler serves /v1/plans/{id} and its sub-resources.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/plans/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	sub := strings.Join(parts[1:], "/")

	method := http.MethodGet
	if sub == "select" {
		method = http.MethodPost
	}
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch sub {
	case "":
		p, err := s.Store.GetPlan(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, err, "Get plan failed")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "select":
		s.selectCandidate(w, r, id)
	case "export":
		s.exportCandidate(w, r, id)
	case "metrics":
		runs, err := s.Store.ListRunMetrics(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, err, "List metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"planId": id, "items": runs})
	case "events/stream":
		s.planEventsSSE(w, r, id)
	case "ws":
		s.planEventsWS(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) selectCandidate(w http.ResponseWriter, r *http.Request, id string) {
	var req model.SelectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p, err := s.Store.SelectCandidate(r.Context(), id, req.Index)
	if err != nil {
		s.storeProblem(w, r, err, "Select candidate failed")
		return
	}
	s.Log.Info("candidate selected", zap.String("planId", id), zap.Int("index", req.Index), zap.String("algorithm", p.Candidates[req.Index].AlgorithmTag))
	writeJSON(w, http.StatusOK, p)
}

// exportCandidate renders one candidate; without ?candidate it uses the
// selected candidate, else the default.
func (s *Server) exportCandidate(w http.ResponseWriter, r *http.Request, id string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid export format", err.Error(), r.URL.Path)
		return
	}
	p, err := s.Store.GetPlan(r.Context(), id)
	if err != nil {
		s.storeProblem(w, r, err, "Get plan failed")
		return
	}
	if len(p.Candidates) == 0 {
		s.storeProblem(w, r, store.ErrPlanNotReady, "Export failed")
		return
	}
	idx := p.DefaultIndex
	if p.SelectedIndex != nil {
		idx = *p.SelectedIndex
	}
	if v := r.URL.Query().Get("candidate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid candidate", v, r.URL.Path)
			return
		}
		idx = n
	}
	if idx < 0 || idx >= len(p.Candidates) {
		s.storeProblem(w, r, store.ErrCandidateRange, "Export failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="plan-%s-%d.%s"`, id, idx, extension(format)))
	if err := export.Write(w, format, p.Candidates[idx]); err != nil {
		s.Log.Warn("export write", zap.String("planId", id), zap.Error(err))
	}
}

func extension(f export.Format) string {
	switch f {
	case export.FormatKML:
		return "kml"
	case export.FormatPolyline:
		return "txt"
	}
	return "geojson"
}

// storeProblem maps store errors to problem responses.
func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, err error, title string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrCandidateRange):
		writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrPlanNotReady):
		writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
