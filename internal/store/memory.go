package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	plans map[string]model.Plan        // id -> plan
	order []string                     // ids, oldest first
	runs  map[string][]model.SolverRun // plan id -> solver runs
}

func NewMemory() *Memory {
	return &Memory{
		plans: map[string]model.Plan{},
		runs:  map[string][]model.SolverRun{},
	}
}

func (m *Memory) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.plans[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.plans[p.ID] = clonePlan(p)
	return clonePlan(p), nil
}

func (m *Memory) UpdatePlan(ctx context.Context, p model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.plans[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = cur.CreatedAt
	m.plans[p.ID] = clonePlan(p)
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return clonePlan(p), nil
}

// ListPlans pages newest first; the cursor is the last id of the previous page.
func (m *Memory) ListPlans(ctx context.Context, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := len(m.order) - 1
	if cursor != "" {
		start = -1
		for i := len(m.order) - 1; i >= 0; i-- {
			if m.order[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.Plan{}
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, clonePlan(m.plans[m.order[i]]))
	}
	var next string
	if len(out) == limit && start-limit >= 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) SelectCandidate(ctx context.Context, id string, index int) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	if err := checkSelectable(p, index); err != nil {
		return model.Plan{}, err
	}
	sel := index
	p.SelectedIndex = &sel
	m.plans[id] = p
	return clonePlan(p), nil
}

func (m *Memory) SaveRunMetrics(ctx context.Context, planID string, runs []model.SolverRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[planID]; !ok {
		return ErrNotFound
	}
	m.runs[planID] = append(m.runs[planID], runs...)
	return nil
}

func (m *Memory) ListRunMetrics(ctx context.Context, planID string) ([]model.SolverRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[planID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.SolverRun{}, m.runs[planID]...), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// clonePlan copies the slices callers may mutate.
func clonePlan(p model.Plan) model.Plan {
	p.Waypoints = append([]model.Waypoint(nil), p.Waypoints...)
	p.Candidates = append([]model.CandidateRoute(nil), p.Candidates...)
	p.Warnings = append([]string(nil), p.Warnings...)
	if p.SelectedIndex != nil {
		v := *p.SelectedIndex
		p.SelectedIndex = &v
	}
	return p
}
