//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripopt/internal/model"
)

func TestPostgresPlanLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := t.Context()
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.MigrateDir(ctx, "../../db/migrations"))
	// second run is a no-op
	require.NoError(t, p.MigrateDir(ctx, "../../db/migrations"))

	pl, err := p.CreatePlan(ctx, model.Plan{Status: model.PlanRunning, Mode: "bike"})
	require.NoError(t, err)

	pl.Status = model.PlanCompleted
	pl.Candidates = []model.CandidateRoute{{AlgorithmTag: "greedy"}, {AlgorithmTag: "genetic"}}
	pl.DefaultIndex = 1
	require.NoError(t, p.UpdatePlan(ctx, pl))

	sel, err := p.SelectCandidate(ctx, pl.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, sel.SelectedIndex)

	got, err := p.GetPlan(ctx, pl.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, *got.SelectedIndex)
	assert.Equal(t, 1, got.DefaultIndex)

	require.NoError(t, p.SaveRunMetrics(ctx, pl.ID, []model.SolverRun{
		{Solver: "greedy", OK: true},
		{Solver: "genetic", OK: true, Details: map[string]any{"generations": 100.0}},
	}))
	runs, err := p.ListRunMetrics(ctx, pl.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 100.0, runs[1].Details["generations"])

	page, _, err := p.ListPlans(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = p.GetPlan(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
