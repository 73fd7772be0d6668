package store

import (
	"context"
	"errors"

	"tripopt/internal/model"
)

// Store is the persistence interface used by the API server. The planner never
// touches it; handlers persist plans after (or while) they are solved.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error)
	UpdatePlan(ctx context.Context, p model.Plan) error
	GetPlan(ctx context.Context, id string) (model.Plan, error)
	ListPlans(ctx context.Context, cursor string, limit int) ([]model.Plan, string, error)
	SelectCandidate(ctx context.Context, id string, index int) (model.Plan, error)

	// Solver run metrics
	SaveRunMetrics(ctx context.Context, planID string, runs []model.SolverRun) error
	ListRunMetrics(ctx context.Context, planID string) ([]model.SolverRun, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound       = errors.New("not found")
	ErrCandidateRange = errors.New("candidate index out of range")
	ErrPlanNotReady   = errors.New("plan has no candidates yet")
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// checkSelectable validates a selection against p's candidates.
func checkSelectable(p model.Plan, index int) error {
	if p.Status != model.PlanCompleted || len(p.Candidates) == 0 {
		return ErrPlanNotReady
	}
	if index < 0 || index >= len(p.Candidates) {
		return ErrCandidateRange
	}
	return nil
}
