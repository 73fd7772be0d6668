package integrations

import (
	"context"
	"errors"

	"tripopt/internal/model"
)

// ErrNoTrip is returned when the backend produced no usable trip.
var ErrNoTrip = errors.New("no trip returned")

// TripOptimizer is an external road-network optimizer consulted as one more
// candidate producer. Implementations must honour ctx cancellation.
type TripOptimizer interface {
	Name() string
	OptimizeTrip(ctx context.Context, waypoints []model.Waypoint, mode string) (TripResult, error)
}

// TripResult is a visiting order over the input indices (Order[0] == 0) with
// optional per-leg measurements in that order. Legs may be empty.
type TripResult struct {
	Order       []int
	Legs        []Leg
	DistanceKm  float64
	DurationMin float64
}

type Leg struct {
	DistanceKm  float64
	DurationMin float64
}
