package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPlannerObserver(t *testing.T) {
	RegisterDefault()
	RegisterDefault() // idempotent

	before := testutil.ToFloat64(SolverFailures.WithLabelValues("external:osrm"))
	o := PlannerObserver{}
	o.SolverDone("external:osrm", 3*time.Millisecond, errors.New("timeout"))
	o.SolverDone("greedy", time.Microsecond, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(SolverFailures.WithLabelValues("external:osrm")))

	fb := testutil.ToFloat64(PlanFallbacks)
	o.PlanDone(1, true)
	o.PlanDone(3, false)
	assert.Equal(t, fb+1, testutil.ToFloat64(PlanFallbacks))
}
