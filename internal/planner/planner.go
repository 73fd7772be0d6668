// Package planner runs the solver ensemble over one trip and ranks the
// resulting candidate routes.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripopt/internal/geo"
	"tripopt/internal/integrations"
	"tripopt/internal/model"
	"tripopt/internal/opt"
)

var (
	ErrInvalidRequest = errors.New("invalid optimize request")
	errSolverPanic    = errors.New("solver panicked")
)

// Config holds service-wide planner settings.
type Config struct {
	// SmallTripMaxStops bounds the trips for which extra modes are expanded.
	SmallTripMaxStops int           `yaml:"small_trip_max_stops" json:"smallTripMaxStops"`
	ExternalTimeout   time.Duration `yaml:"external_timeout" json:"externalTimeout"`
	TwoOptIterations  int           `yaml:"two_opt_iterations" json:"twoOptIterations"`
	GA                opt.GAParams  `yaml:"ga" json:"ga"`
}

func DefaultConfig() Config {
	return Config{
		SmallTripMaxStops: 5,
		ExternalTimeout:   5 * time.Second,
		TwoOptIterations:  50,
	}
}

// Observer receives per-solver outcomes, e.g. for Prometheus.
type Observer interface {
	SolverDone(solver string, took time.Duration, err error)
	PlanDone(candidates int, fallback bool)
}

type nopObserver struct{}

func (nopObserver) SolverDone(string, time.Duration, error) {}
func (nopObserver) PlanDone(int, bool) {}

type Option func(*Planner)

func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithExternal registers the optimizer consulted when a request sets useExternal.
func WithExternal(t integrations.TripOptimizer) Option {
	return func(p *Planner) { p.external = t }
}

func WithObserver(o Observer) Option {
	return func(p *Planner) {
		if o != nil {
			p.obs = o
		}
	}
}

// Planner is safe for concurrent use; each call owns its matrix and solver state.
type Planner struct {
	cfg      Config
	external integrations.TripOptimizer
	log      *zap.Logger
	obs      Observer
}

func New(cfg Config, opts ...Option) *Planner {
	def := DefaultConfig()
	if cfg.SmallTripMaxStops <= 0 {
		cfg.SmallTripMaxStops = def.SmallTripMaxStops
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = def.ExternalTimeout
	}
	if cfg.TwoOptIterations <= 0 {
		cfg.TwoOptIterations = def.TwoOptIterations
	}
	p := &Planner{cfg: cfg, log: zap.NewNop(), obs: nopObserver{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Planner) Config() Config { return p.cfg }

// HasExternal reports whether an external optimizer is wired.
func (p *Planner) HasExternal() bool { return p.external != nil }

// Plan optimizes req and returns the ranked plan.
func (p *Planner) Plan(ctx context.Context, req model.OptimizeRequest) (model.Plan, error) {
	plan, _, err := p.Run(ctx, req, nil)
	return plan, err
}

// Run is Plan with a per-generation GA progress callback; it also reports every
// solver invocation. Only request validation errors are returned.
func (p *Planner) Run(ctx context.Context, req model.OptimizeRequest, progress func(opt.Progress)) (model.Plan, []model.SolverRun, error) {
	modes, err := p.validate(req)
	if err != nil {
		return model.Plan{}, nil, err
	}
	wps := req.Waypoints
	plan := model.Plan{
		Status:    model.PlanCompleted,
		Mode:      string(modes[0]),
		Waypoints: append([]model.Waypoint(nil), wps...),
	}
	if len(modes) > 1 && len(wps) > p.cfg.SmallTripMaxStops {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"additional modes ignored: %d stops exceeds %d", len(wps), p.cfg.SmallTripMaxStops))
		modes = modes[:1]
	}

	pts := make([]opt.Point, len(wps))
	for i, w := range wps {
		pts[i] = opt.Point{Lat: w.Lat, Lng: w.Lng}
		if !geo.ValidCoordinate(w.Lat, w.Lng) {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("waypoint %d has invalid coordinates; penalty distance applied", i))
		}
	}
	m, err := p.matrix(pts, req.DistanceMatrixKm)
	if err != nil {
		return model.Plan{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	in := Input{
		Matrix:    m,
		Waypoints: plan.Waypoints,
		Mode:      modes[0],
		Rand:      opt.NewRand(req.Seed),
		GA:        p.gaParams(req.GA),
		Progress:  progress,
	}
	var runs []model.SolverRun
	for _, s := range p.solvers(req, &plan) {
		solveModes := modes[:1]
		if pm, ok := s.(perModer); ok && pm.PerMode() {
			solveModes = modes
		}
		for _, sm := range solveModes {
			in.Mode = sm
			res, run := p.invoke(ctx, s, in)
			runs = append(runs, run)
			if !run.OK {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s failed: %s", run.Solver, run.Error))
				continue
			}
			assembleModes := modes
			if len(solveModes) > 1 {
				assembleModes = []geo.Mode{sm}
			}
			for _, am := range assembleModes {
				c, err := AssembleWithLegs(plan.Waypoints, res.Solution.Tour, am, s.Name(), res.Legs)
				if err != nil {
					p.log.Warn("assemble failed", zap.String("solver", s.Name()), zap.String("mode", string(am)), zap.Error(err))
					plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s/%s not assembled: %v", s.Name(), am, err))
					continue
				}
				c.TourDistanceKm = finite(res.Solution.TotalDistance)
				plan.Candidates = append(plan.Candidates, c)
			}
		}
	}

	fallback := len(plan.Candidates) == 0
	if fallback {
		g := opt.Greedy(m)
		c, err := Assemble(plan.Waypoints, g.Tour, modes[0], TagGreedy)
		if err != nil {
			return model.Plan{}, runs, fmt.Errorf("greedy fallback: %w", err)
		}
		c.TourDistanceKm = finite(g.TotalDistance)
		plan.Candidates = append(plan.Candidates, c)
		plan.Warnings = append(plan.Warnings, "all solvers failed; greedy fallback used")
		p.log.Warn("greedy fallback used", zap.Int("waypoints", len(wps)))
	}
	plan.DefaultIndex = Rank(plan.Candidates)
	p.obs.PlanDone(len(plan.Candidates), fallback)
	return plan, runs, nil
}

func (p *Planner) solvers(req model.OptimizeRequest, plan *model.Plan) []Solver {
	out := []Solver{greedySolver{}, nearestSolver{}, geneticSolver{}}
	if req.TwoOpt {
		out = append(out, twoOptSolver{iterations: p.cfg.TwoOptIterations})
	}
	if req.UseExternal && len(req.Waypoints) >= 2 {
		if p.external == nil {
			plan.Warnings = append(plan.Warnings, "external optimizer requested but not configured")
		} else {
			out = append(out, externalSolver{t: p.external})
		}
	}
	return out
}

// invoke runs one solver with panic recovery; external solvers get a deadline.
func (p *Planner) invoke(ctx context.Context, s Solver, in Input) (res Result, run model.SolverRun) {
	run = model.SolverRun{Solver: s.Name(), Mode: string(in.Mode)}
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSolverPanic, r)
			p.log.Error("solver panic", zap.String("solver", s.Name()), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		took := time.Since(start)
		run.DurationMs = float64(took.Microseconds()) / 1000
		p.obs.SolverDone(s.Name(), took, err)
		if err != nil {
			run.OK, run.Error = false, err.Error()
			res = Result{}
			p.log.Warn("solver failed", zap.String("solver", s.Name()), zap.String("mode", string(in.Mode)), zap.Error(err))
			return
		}
		run.OK = true
		run.TourDistanceKm = finite(res.Solution.TotalDistance)
		run.Details = res.Details
	}()

	if _, ok := s.(perModer); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ExternalTimeout)
		defer cancel()
	}
	res, err = s.Solve(ctx, in)
	if err == nil {
		err = opt.ValidateTour(res.Solution.Tour, in.Matrix.Len())
	}
	return res, run
}

// Validate reports the error Plan would return for req without solving it.
func (p *Planner) Validate(req model.OptimizeRequest) error {
	_, err := p.validate(req)
	return err
}

func (p *Planner) validate(req model.OptimizeRequest) ([]geo.Mode, error) {
	if len(req.Waypoints) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, opt.ErrNoWaypoints)
	}
	primary, err := geo.ParseMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	modes := []geo.Mode{primary}
	for _, s := range req.Modes {
		m, err := geo.ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: modes: %w", ErrInvalidRequest, err)
		}
		if !containsMode(modes, m) {
			modes = append(modes, m)
		}
	}
	if len(req.DistanceMatrixKm) > 0 {
		if _, err := p.matrix(nil, req.DistanceMatrixKm); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if n := len(req.DistanceMatrixKm); n != len(req.Waypoints) {
			return nil, fmt.Errorf("%w: %w: %d rows for %d waypoints", ErrInvalidRequest, opt.ErrMalformedMatrix, n, len(req.Waypoints))
		}
	}
	if ga := req.GA; ga != nil {
		var bad []string
		if ga.PopulationSize < 0 {
			bad = append(bad, "populationSize")
		}
		if ga.Generations < 0 {
			bad = append(bad, "generations")
		}
		if ga.MutationRate < 0 || ga.MutationRate > 1 || math.IsNaN(ga.MutationRate) {
			bad = append(bad, "mutationRate")
		}
		if ga.EliteSize < 0 {
			bad = append(bad, "eliteSize")
		}
		if len(bad) > 0 {
			return nil, fmt.Errorf("%w: ga: invalid %s", ErrInvalidRequest, strings.Join(bad, ", "))
		}
	}
	return modes, nil
}

// matrix validates caller-supplied rows, or builds the geodesic matrix for pts.
// Either way it runs before any solver.
func (p *Planner) matrix(pts []opt.Point, rows [][]float64) (*opt.Matrix, error) {
	if len(rows) == 0 {
		return opt.BuildMatrix(pts, p.log)
	}
	m, err := opt.NewMatrix(rows)
	if err != nil {
		return nil, err
	}
	if pts != nil && m.Len() != len(pts) {
		return nil, fmt.Errorf("%w: %d rows for %d waypoints", opt.ErrMalformedMatrix, m.Len(), len(pts))
	}
	return m, nil
}

// gaParams overlays per-request overrides on the configured defaults.
func (p *Planner) gaParams(o *model.GAOverrides) opt.GAParams {
	g := p.cfg.GA
	if o == nil {
		return g
	}
	if o.PopulationSize > 0 {
		g.PopulationSize = o.PopulationSize
	}
	if o.Generations > 0 {
		g.Generations = o.Generations
	}
	if o.MutationRate > 0 {
		g.MutationRate = o.MutationRate
	}
	if o.EliteSize > 0 {
		g.EliteSize = o.EliteSize
	}
	return g
}

func containsMode(ms []geo.Mode, m geo.Mode) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
