package model

import "time"

// Core trip-planning records shared by the planner, store and API.

type Waypoint struct {
	ID    string  `json:"id,omitempty"`
	Label string  `json:"label,omitempty"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type RouteSegment struct {
	Mode        string   `json:"mode"`
	From        Waypoint `json:"from"`
	To          Waypoint `json:"to"`
	DistanceKm  float64  `json:"distanceKm"`
	DurationMin int      `json:"durationMin"`
	Cost        int      `json:"cost"`
	Reliability int      `json:"reliabilityScore"`
}

// CandidateRoute is one solver's realized, one-way route. TourDistanceKm is the
// solver's closed-tour objective and differs from TotalDistanceKm by the return leg.
type CandidateRoute struct {
	AlgorithmTag     string         `json:"algorithmTag"`
	Mode             string         `json:"mode"`
	OrderedStops     []Waypoint     `json:"orderedStops"`
	Order            []int          `json:"order"`
	Segments         []RouteSegment `json:"segments"`
	TotalDistanceKm  float64        `json:"totalDistanceKm"`
	TotalDurationMin int            `json:"totalDurationMin"`
	TotalCost        int            `json:"totalCost"`
	TourDistanceKm   float64        `json:"tourDistanceKm,omitempty"`
}

const (
	PlanRunning   = "running"
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

// Plan is the outcome of one optimization request.
type Plan struct {
	ID            string           `json:"id"`
	Status        string           `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	Mode          string           `json:"mode"`
	Waypoints     []Waypoint       `json:"waypoints"`
	Candidates    []CandidateRoute `json:"candidates"`
	DefaultIndex  int              `json:"defaultIndex"`
	SelectedIndex *int             `json:"selectedIndex,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Default returns the lowest-cost candidate chosen by the ranker.
func (p Plan) Default() (CandidateRoute, bool) {
	if p.DefaultIndex < 0 || p.DefaultIndex >= len(p.Candidates) {
		return CandidateRoute{}, false
	}
	return p.Candidates[p.DefaultIndex], true
}

type GAOverrides struct {
	PopulationSize int     `json:"populationSize,omitempty"`
	Generations    int     `json:"generations,omitempty"`
	MutationRate   float64 `json:"mutationRate,omitempty"`
	EliteSize      int     `json:"eliteSize,omitempty"`
}

// OptimizeRequest asks for a plan over Waypoints. DistanceMatrixKm, when set,
// replaces the geodesic matrix the solvers search over; it must be n×n for n
// waypoints. Segments are still priced geodesically.
type OptimizeRequest struct {
	Waypoints        []Waypoint   `json:"waypoints"`
	Mode             string       `json:"mode,omitempty"`
	Modes            []string     `json:"modes,omitempty"`
	UseExternal      bool         `json:"useExternal,omitempty"`
	TwoOpt           bool         `json:"twoOpt,omitempty"`
	Seed             int64        `json:"seed,omitempty"`
	GA               *GAOverrides `json:"ga,omitempty"`
	DistanceMatrixKm [][]float64  `json:"distanceMatrixKm,omitempty"`
	Async            bool         `json:"async,omitempty"`
}

type SelectRequest struct {
	Index int `json:"index"`
}

// SolverRun records one solver invocation of a plan.
type SolverRun struct {
	Solver         string         `json:"solver"`
	Mode           string         `json:"mode,omitempty"`
	DurationMs     float64        `json:"durationMs"`
	OK             bool           `json:"ok"`
	Error          string         `json:"error,omitempty"`
	TourDistanceKm float64        `json:"tourDistanceKm,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}
