package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripopt/internal/model"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxLimit, clampLimit(maxLimit+1))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
	assert.Nil(t, nullIndex(nil))
	i := 3
	assert.Equal(t, 3, nullIndex(&i))
}

func TestDecodePlan(t *testing.T) {
	p, err := decodePlan([]byte(`{"id":"a","status":"completed","candidates":[{"algorithmTag":"greedy","totalCost":12}],"defaultIndex":0}`))
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
	assert.Equal(t, 12, p.Candidates[0].TotalCost)

	_, err = decodePlan([]byte(`{`))
	assert.Error(t, err)
}

func TestCheckSelectable(t *testing.T) {
	p := model.Plan{Status: model.PlanCompleted, Candidates: make([]model.CandidateRoute, 2)}
	assert.NoError(t, checkSelectable(p, 1))
	assert.ErrorIs(t, checkSelectable(p, 2), ErrCandidateRange)
	p.Status = model.PlanFailed
	assert.ErrorIs(t, checkSelectable(p, 0), ErrPlanNotReady)
}
