package planner

import (
	"context"
	"fmt"

	"tripopt/internal/geo"
	"tripopt/internal/integrations"
	"tripopt/internal/model"
	"tripopt/internal/opt"
)

// Algorithm tags carried on candidates.
const (
	TagGreedy   = "greedy"
	TagNearest  = "nearest_neighbor"
	TagGenetic  = "genetic"
	TagTwoOpt   = "two_opt"
	tagExternal = "external:"
)

// Input is everything a solver sees for one run. Solvers must not retain it.
type Input struct {
	Matrix    *opt.Matrix
	Waypoints []model.Waypoint
	Mode      geo.Mode
	Rand      opt.Rand
	GA        opt.GAParams
	Progress  func(opt.Progress)
}

// Result is a solved tour plus optional leg measurements and run details.
type Result struct {
	Solution opt.Solution
	Legs     []integrations.Leg
	Details  map[string]any
}

// Solver produces one visiting order.
type Solver interface {
	Name() string
	Solve(ctx context.Context, in Input) (Result, error)
}

// perModer is implemented by solvers whose tour depends on the travel mode;
// they are re-run for every requested mode.
type perModer interface {
	PerMode() bool
}

type greedySolver struct{}

func (greedySolver) Name() string { return TagGreedy }

func (greedySolver) Solve(_ context.Context, in Input) (Result, error) {
	return Result{Solution: opt.Greedy(in.Matrix)}, nil
}

type nearestSolver struct{}

func (nearestSolver) Name() string { return TagNearest }

func (nearestSolver) Solve(_ context.Context, in Input) (Result, error) {
	return Result{Solution: opt.NearestNeighbor(in.Matrix)}, nil
}

type geneticSolver struct{}

func (geneticSolver) Name() string { return TagGenetic }

func (geneticSolver) Solve(_ context.Context, in Input) (Result, error) {
	sol, met := opt.Genetic(in.Matrix, opt.GAOptions{Params: in.GA, Rand: in.Rand, Progress: in.Progress})
	return Result{Solution: sol, Details: met.Map()}, nil
}

// twoOptSolver polishes the nearest-neighbour tour with 2-opt moves.
type twoOptSolver struct {
	iterations int
}

func (twoOptSolver) Name() string { return TagTwoOpt }

func (s twoOptSolver) Solve(_ context.Context, in Input) (Result, error) {
	seed := opt.NearestNeighbor(in.Matrix)
	sol := opt.ImproveOrder2Opt(in.Matrix, seed.Tour, s.iterations)
	return Result{Solution: sol, Details: map[string]any{
		"seedDistanceKm": finite(seed.TotalDistance),
		"iterations":     s.iterations,
	}}, nil
}

// externalSolver adapts a TripOptimizer. Its tour is re-scored on the geodesic
// matrix so its objective is comparable with the other solvers.
type externalSolver struct {
	t integrations.TripOptimizer
}

func (s externalSolver) Name() string { return tagExternal + s.t.Name() }

func (externalSolver) PerMode() bool { return true }

func (s externalSolver) Solve(ctx context.Context, in Input) (Result, error) {
	res, err := s.t.OptimizeTrip(ctx, in.Waypoints, string(in.Mode))
	if err != nil {
		return Result{}, err
	}
	if err := opt.ValidateTour(res.Order, in.Matrix.Len()); err != nil {
		return Result{}, fmt.Errorf("%s returned %w", s.t.Name(), err)
	}
	return Result{
		Solution: opt.Evaluate(in.Matrix, res.Order),
		Legs:     res.Legs,
		Details: map[string]any{
			"roadDistanceKm":  res.DistanceKm,
			"roadDurationMin": res.DurationMin,
		},
	}, nil
}
