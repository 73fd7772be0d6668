package planner

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tripopt/internal/geo"
	"tripopt/internal/integrations"
	"tripopt/internal/model"
	"tripopt/internal/opt"
)

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) Name() string { return "mock" }

func (m *mockOptimizer) OptimizeTrip(ctx context.Context, wps []model.Waypoint, mode string) (integrations.TripResult, error) {
	args := m.Called(ctx, wps, mode)
	return args.Get(0).(integrations.TripResult), args.Error(1)
}

// blockingOptimizer waits for ctx to end.
type blockingOptimizer struct{}

func (blockingOptimizer) Name() string { return "slow" }

func (blockingOptimizer) OptimizeTrip(ctx context.Context, _ []model.Waypoint, _ string) (integrations.TripResult, error) {
	<-ctx.Done()
	return integrations.TripResult{}, ctx.Err()
}

type recordingObserver struct {
	mu       sync.Mutex
	failures map[string]int
	calls    int
	fallback bool
}

func (o *recordingObserver) SolverDone(solver string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		if o.failures == nil {
			o.failures = map[string]int{}
		}
		o.failures[solver]++
	}
}

func (o *recordingObserver) PlanDone(_ int, fallback bool) { o.fallback = fallback }

// kmEast converts an equatorial eastward offset to degrees of longitude.
func kmEast(km float64) float64 { return km / (geo.EarthRadiusKm * math.Pi / 180) }

// eastBound is O, then B 13 km east, then A 5 km east, in that input order.
func eastBound() []model.Waypoint {
	return []model.Waypoint{
		{ID: "o", Label: "Origin", Lat: 0, Lng: 0},
		{ID: "b", Label: "B", Lat: 0, Lng: kmEast(13)},
		{ID: "a", Label: "A", Lat: 0, Lng: kmEast(5)},
	}
}

func fourStops() []model.Waypoint {
	return []model.Waypoint{
		{ID: "0", Lat: 40.7128, Lng: -74.0060},
		{ID: "1", Lat: 40.7306, Lng: -73.9352},
		{ID: "2", Lat: 40.6782, Lng: -73.9442},
		{ID: "3", Lat: 40.7580, Lng: -73.9855},
	}
}

func tags(cs []model.CandidateRoute) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.AlgorithmTag + "/" + c.Mode
	}
	return out
}

func TestAssemble_EastBoundOpenRoute(t *testing.T) {
	wps := eastBound()
	c, err := Assemble(wps, []int{0, 2, 1}, geo.Auto, TagNearest)
	require.NoError(t, err)

	require.Len(t, c.Segments, 2)
	assert.Equal(t, "a", c.OrderedStops[1].ID)
	assert.Equal(t, "b", c.OrderedStops[2].ID)
	assert.InDelta(t, 5.0, c.Segments[0].DistanceKm, 1e-2)
	assert.InDelta(t, 8.0, c.Segments[1].DistanceKm, 1e-2)
	assert.InDelta(t, 13.0, c.TotalDistanceKm, 1e-2)
	// auto: round(5/35*60)+5 = 14, round(8/35*60)+5 = 19
	assert.Equal(t, 33, c.TotalDurationMin)
	// auto: round(20+8*5) = 60, round(20+8*8) = 84
	assert.Equal(t, 144, c.TotalCost)
	for _, s := range c.Segments {
		assert.Equal(t, "auto", s.Mode)
		assert.Equal(t, 80, s.Reliability)
	}
}

func TestAssemble_Errors(t *testing.T) {
	wps := eastBound()
	_, err := Assemble(wps, []int{1, 0, 2}, geo.Auto, TagGreedy)
	assert.ErrorIs(t, err, opt.ErrInvalidTour)
	_, err = Assemble(wps, []int{0, 1}, geo.Auto, TagGreedy)
	assert.ErrorIs(t, err, opt.ErrInvalidTour)
	_, err = Assemble(wps, []int{0, 1, 2}, geo.Mode("boat"), TagGreedy)
	assert.ErrorIs(t, err, geo.ErrUnknownMode)
}

func TestAssemble_InvalidCoordinateUsesSentinel(t *testing.T) {
	wps := []model.Waypoint{{Lat: 10, Lng: 10}, {Lat: 999, Lng: 10}}
	c, err := Assemble(wps, []int{0, 1}, geo.Walk, TagGreedy)
	require.NoError(t, err)
	assert.Equal(t, opt.SentinelDistanceKm, c.TotalDistanceKm)
}

func TestAssembleWithLegs(t *testing.T) {
	wps := eastBound()
	legs := []integrations.Leg{{DistanceKm: 6.2, DurationMin: 9.6}, {DistanceKm: 9.1, DurationMin: 12.2}}
	c, err := AssembleWithLegs(wps, []int{0, 2, 1}, geo.Bus, "external:mock", legs)
	require.NoError(t, err)
	assert.InDelta(t, 15.3, c.TotalDistanceKm, 1e-9)
	assert.Equal(t, (10+5)+(12+5), c.TotalDurationMin)
	// bus: round(15+3*6.2) = 34, round(15+3*9.1) = 42
	assert.Equal(t, 76, c.TotalCost)

	_, err = AssembleWithLegs(wps, []int{0, 2, 1}, geo.Bus, "x", legs[:1])
	assert.Error(t, err)

	// no legs falls back to geodesic pricing
	c, err = AssembleWithLegs(wps, []int{0, 2, 1}, geo.Bus, "x", nil)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, c.TotalDistanceKm, 1e-2)
}

func TestRank(t *testing.T) {
	assert.Equal(t, -1, Rank(nil))
	cands := []model.CandidateRoute{
		{AlgorithmTag: "a", TotalCost: 50, TotalDistanceKm: 9},
		{AlgorithmTag: "b", TotalCost: 40, TotalDistanceKm: 12},
		{AlgorithmTag: "c", TotalCost: 40, TotalDistanceKm: 10},
		{AlgorithmTag: "d", TotalCost: 40, TotalDistanceKm: 10},
	}
	assert.Equal(t, 2, Rank(cands))
}

func TestPlan_EastBoundScenario(t *testing.T) {
	p := New(Config{})
	plan, err := p.Plan(context.Background(), model.OptimizeRequest{Waypoints: eastBound(), Seed: 7})
	require.NoError(t, err)

	assert.Equal(t, model.PlanCompleted, plan.Status)
	require.Equal(t, []string{"greedy/auto", "nearest_neighbor/auto", "genetic/auto"}, tags(plan.Candidates))

	nn := plan.Candidates[1]
	assert.Equal(t, []int{0, 2, 1}, nn.Order)
	assert.InDelta(t, 13.0, nn.TotalDistanceKm, 1e-2)
	// the solver objective includes the 13 km return leg
	assert.InDelta(t, 26.0, nn.TourDistanceKm, 1e-2)

	greedy := plan.Candidates[0]
	assert.Equal(t, []int{0, 1, 2}, greedy.Order)
	assert.InDelta(t, 21.0, greedy.TotalDistanceKm, 1e-2)
	// closed tours O-B-A-O and O-A-B-O have equal length
	assert.InDelta(t, 26.0, greedy.TourDistanceKm, 1e-2)

	def, ok := plan.Default()
	require.True(t, ok)
	assert.InDelta(t, 13.0, def.TotalDistanceKm, 1e-2)
	assert.Equal(t, 1, plan.DefaultIndex)
}

func TestPlan_EveryCandidateIsAPermutation(t *testing.T) {
	p := New(Config{})
	for n := 1; n <= 8; n++ {
		wps := make([]model.Waypoint, n)
		for i := range wps {
			wps[i] = model.Waypoint{Lat: 48 + float64(i*7%5)*0.01, Lng: 2 + float64(i*3%7)*0.01}
		}
		plan, err := p.Plan(context.Background(), model.OptimizeRequest{Waypoints: wps, TwoOpt: true, Seed: int64(n)})
		require.NoError(t, err)
		require.Len(t, plan.Candidates, 4, "n=%d", n)
		for _, c := range plan.Candidates {
			assert.NoError(t, opt.ValidateTour(c.Order, n), "%s n=%d", c.AlgorithmTag, n)
			assert.Len(t, c.Segments, n-1)
		}
	}
}

func TestPlan_SingleWaypoint(t *testing.T) {
	plan, err := New(Config{}).Plan(context.Background(), model.OptimizeRequest{
		Waypoints: []model.Waypoint{{Lat: 1, Lng: 1}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Candidates)
	for _, c := range plan.Candidates {
		assert.Equal(t, []int{0}, c.Order)
		assert.Empty(t, c.Segments)
		assert.Zero(t, c.TotalCost)
	}
}

func TestPlan_TwoWaypointsAgree(t *testing.T) {
	wps := fourStops()[:2]
	plan, err := New(Config{}).Plan(context.Background(), model.OptimizeRequest{Waypoints: wps})
	require.NoError(t, err)
	want := 2 * geo.Distance(wps[0].Lat, wps[0].Lng, wps[1].Lat, wps[1].Lng)
	for _, c := range plan.Candidates {
		assert.InDelta(t, want, c.TourDistanceKm, 1e-9, c.AlgorithmTag)
	}
}

func TestPlan_FailingExternalIsIsolated(t *testing.T) {
	ext := &mockOptimizer{}
	ext.On("OptimizeTrip", mock.Anything, mock.Anything, "auto").
		Return(integrations.TripResult{}, errors.New("upstream 503"))
	obs := &recordingObserver{}

	p := New(Config{}, WithExternal(ext), WithObserver(obs))
	plan, runs, err := p.Run(context.Background(), model.OptimizeRequest{Waypoints: fourStops(), UseExternal: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"greedy/auto", "nearest_neighbor/auto", "genetic/auto"}, tags(plan.Candidates))
	assert.Contains(t, plan.Warnings, "external:mock failed: upstream 503")
	require.Len(t, runs, 4)
	assert.False(t, runs[3].OK)
	assert.Equal(t, 1, obs.failures["external:mock"])
	assert.Equal(t, 4, obs.calls)
	assert.False(t, obs.fallback)
	ext.AssertExpectations(t)
}

func TestPlan_PanickingExternalIsIsolated(t *testing.T) {
	ext := &mockOptimizer{}
	ext.On("OptimizeTrip", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("nil map write") })

	plan, runs, err := New(Config{}, WithExternal(ext)).Run(context.Background(),
		model.OptimizeRequest{Waypoints: fourStops(), UseExternal: true}, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Candidates, 3)
	require.Len(t, runs, 4)
	assert.Contains(t, runs[3].Error, "nil map write")
}

func TestPlan_ExternalTimeout(t *testing.T) {
	p := New(Config{ExternalTimeout: 20 * time.Millisecond}, WithExternal(blockingOptimizer{}))
	start := time.Now()
	plan, runs, err := p.Run(context.Background(), model.OptimizeRequest{Waypoints: fourStops(), UseExternal: true}, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, plan.Candidates, 3)
	assert.Contains(t, runs[len(runs)-1].Error, context.DeadlineExceeded.Error())
}

func TestPlan_ExternalCandidate(t *testing.T) {
	ext := &mockOptimizer{}
	ext.On("OptimizeTrip", mock.Anything, mock.Anything, "walk").Return(integrations.TripResult{
		Order:      []int{0, 2, 1},
		Legs:       []integrations.Leg{{DistanceKm: 5.4, DurationMin: 70}, {DistanceKm: 8.3, DurationMin: 110}},
		DistanceKm: 13.7,
	}, nil)

	plan, err := New(Config{}, WithExternal(ext)).Plan(context.Background(),
		model.OptimizeRequest{Waypoints: eastBound(), Mode: "walk", UseExternal: true})
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 4)
	c := plan.Candidates[3]
	assert.Equal(t, "external:mock", c.AlgorithmTag)
	assert.InDelta(t, 13.7, c.TotalDistanceKm, 1e-9)
	assert.Equal(t, 75+115, c.TotalDurationMin)
	assert.InDelta(t, 26.0, c.TourDistanceKm, 1e-2)
}

func TestPlan_ExternalBadOrderRejected(t *testing.T) {
	ext := &mockOptimizer{}
	ext.On("OptimizeTrip", mock.Anything, mock.Anything, mock.Anything).
		Return(integrations.TripResult{Order: []int{0, 1, 1}}, nil)
	plan, err := New(Config{}, WithExternal(ext)).Plan(context.Background(),
		model.OptimizeRequest{Waypoints: eastBound(), UseExternal: true})
	require.NoError(t, err)
	assert.Len(t, plan.Candidates, 3)
}

func TestPlan_ExternalNotConfigured(t *testing.T) {
	plan, err := New(Config{}).Plan(context.Background(), model.OptimizeRequest{Waypoints: eastBound(), UseExternal: true})
	require.NoError(t, err)
	assert.Len(t, plan.Candidates, 3)
	assert.Contains(t, plan.Warnings, "external optimizer requested but not configured")
}

func TestPlan_ModeExpansion(t *testing.T) {
	ext := &mockOptimizer{}
	ext.On("OptimizeTrip", mock.Anything, mock.Anything, mock.Anything).
		Return(integrations.TripResult{Order: []int{0, 2, 1}}, nil)

	p := New(Config{SmallTripMaxStops: 3}, WithExternal(ext))
	plan, err := p.Plan(context.Background(), model.OptimizeRequest{
		Waypoints: eastBound(), Mode: "auto", Modes: []string{"walk", "auto", "bike"}, UseExternal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"greedy/auto", "greedy/walk", "greedy/bike",
		"nearest_neighbor/auto", "nearest_neighbor/walk", "nearest_neighbor/bike",
		"genetic/auto", "genetic/walk", "genetic/bike",
		"external:mock/auto", "external:mock/walk", "external:mock/bike",
	}, tags(plan.Candidates))
	ext.AssertNumberOfCalls(t, "OptimizeTrip", 3)

	// walking is free, so a walk candidate with the shortest path wins
	def, _ := plan.Default()
	assert.Equal(t, "walk", def.Mode)
	assert.InDelta(t, 13.0, def.TotalDistanceKm, 1e-2)
}

func TestPlan_ModeExpansionSkippedForLargeTrips(t *testing.T) {
	plan, err := New(Config{SmallTripMaxStops: 3}).Plan(context.Background(), model.OptimizeRequest{
		Waypoints: fourStops(), Mode: "bus", Modes: []string{"walk"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"greedy/bus", "nearest_neighbor/bus", "genetic/bus"}, tags(plan.Candidates))
	assert.Contains(t, plan.Warnings, "additional modes ignored: 4 stops exceeds 3")
}

func TestPlan_InvalidCoordinateDegrades(t *testing.T) {
	wps := fourStops()
	wps[2].Lat = 999
	plan, err := New(Config{}).Plan(context.Background(), model.OptimizeRequest{Waypoints: wps})
	require.NoError(t, err)
	assert.Len(t, plan.Candidates, 3)
	assert.Contains(t, plan.Warnings, "waypoint 2 has invalid coordinates; penalty distance applied")
}

func TestPlan_InvalidRequests(t *testing.T) {
	p := New(Config{})
	cases := []model.OptimizeRequest{
		{},
		{Waypoints: eastBound(), Mode: "hovercraft"},
		{Waypoints: eastBound(), Modes: []string{"walk", "teleport"}},
		{Waypoints: eastBound(), GA: &model.GAOverrides{MutationRate: 1.5}},
		{Waypoints: eastBound(), GA: &model.GAOverrides{PopulationSize: -1}},
	}
	for _, req := range cases {
		_, err := p.Plan(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	_, err := p.Plan(context.Background(), model.OptimizeRequest{})
	assert.ErrorIs(t, err, opt.ErrNoWaypoints)
}

func TestPlan_SuppliedMatrixSteersSolvers(t *testing.T) {
	// road distances where B is next door and A is a long detour
	rows := [][]float64{
		{0, 1, 10},
		{1, 0, 1},
		{10, 1, 0},
	}
	plan, runs, err := New(Config{}).Run(context.Background(), model.OptimizeRequest{Waypoints: eastBound(), DistanceMatrixKm: rows}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Candidates, 3)
	assert.Equal(t, []int{0, 1, 2}, plan.Candidates[1].Order)
	assert.InDelta(t, 12, plan.Candidates[1].TourDistanceKm, 1e-9)
	assert.InDelta(t, 12, runs[1].TourDistanceKm, 1e-9)
	// segments stay geodesic: O→B 13 km, B→A 8 km
	assert.InDelta(t, 21, plan.Candidates[1].TotalDistanceKm, 1e-2)
}

func TestPlan_MalformedMatrixFailsBeforeSolving(t *testing.T) {
	cases := map[string][][]float64{
		"ragged":        {{0, 1, 2}, {1, 0}, {2, 1, 0}},
		"negative":      {{0, -1, 2}, {1, 0, 1}, {2, 1, 0}},
		"nan":           {{0, math.NaN(), 2}, {1, 0, 1}, {2, 1, 0}},
		"diagonal":      {{0, 1, 2}, {1, 3, 1}, {2, 1, 0}},
		"wrong order":   {{0, 1}, {1, 0}},
		"too many rows": {{0, 1, 1, 1}, {1, 0, 1, 1}, {1, 1, 0, 1}, {1, 1, 1, 0}},
	}
	for name, rows := range cases {
		t.Run(name, func(t *testing.T) {
			obs := &recordingObserver{}
			p := New(Config{}, WithObserver(obs))
			req := model.OptimizeRequest{Waypoints: eastBound(), DistanceMatrixKm: rows}

			assert.ErrorIs(t, p.Validate(req), opt.ErrMalformedMatrix)
			plan, runs, err := p.Run(context.Background(), req, nil)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.ErrorIs(t, err, opt.ErrMalformedMatrix)
			assert.Empty(t, plan.Candidates)
			assert.Empty(t, runs)
			assert.Zero(t, obs.calls)
		})
	}
}

func TestPlan_SeedIsDeterministicAndProgressReported(t *testing.T) {
	req := model.OptimizeRequest{Waypoints: fourStops(), Seed: 42, GA: &model.GAOverrides{Generations: 30}}
	p := New(Config{})

	var gens []int
	a, runs, err := p.Run(context.Background(), req, func(pr opt.Progress) { gens = append(gens, pr.Generation) })
	require.NoError(t, err)
	b, err := p.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Candidates[2].Order, b.Candidates[2].Order)
	require.Len(t, gens, 30)
	assert.Equal(t, 30, gens[29])
	assert.Equal(t, 30, runs[2].Details["generations"])
}

func TestConfigDefaults(t *testing.T) {
	p := New(Config{GA: opt.GAParams{Generations: 10}})
	cfg := p.Config()
	assert.Equal(t, 5, cfg.SmallTripMaxStops)
	assert.Equal(t, 5*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, 10, cfg.GA.Generations)
	assert.False(t, p.HasExternal())
}
