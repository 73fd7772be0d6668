package planner

import (
	"fmt"
	"math"

	"tripopt/internal/geo"
	"tripopt/internal/integrations"
	"tripopt/internal/model"
	"tripopt/internal/opt"
)

// Assemble realizes tour as a one-way route priced uniformly in mode. Legs touching
// an invalid coordinate are charged the sentinel distance.
func Assemble(waypoints []model.Waypoint, tour []int, mode geo.Mode, tag string) (model.CandidateRoute, error) {
	return assemble(waypoints, tour, mode, tag, nil)
}

// AssembleWithLegs is Assemble with distances and durations supplied by an
// external optimizer, one leg per consecutive pair of tour. Fares and
// reliability still follow the mode's profile.
func AssembleWithLegs(waypoints []model.Waypoint, tour []int, mode geo.Mode, tag string, legs []integrations.Leg) (model.CandidateRoute, error) {
	if len(legs) == 0 {
		return assemble(waypoints, tour, mode, tag, nil)
	}
	if len(legs) != len(tour)-1 {
		return model.CandidateRoute{}, fmt.Errorf("%d legs for a %d-stop tour", len(legs), len(tour))
	}
	return assemble(waypoints, tour, mode, tag, legs)
}

func assemble(waypoints []model.Waypoint, tour []int, mode geo.Mode, tag string, legs []integrations.Leg) (model.CandidateRoute, error) {
	if !mode.Valid() {
		return model.CandidateRoute{}, fmt.Errorf("%w: %q", geo.ErrUnknownMode, mode)
	}
	if err := opt.ValidateTour(tour, len(waypoints)); err != nil {
		return model.CandidateRoute{}, err
	}
	c := model.CandidateRoute{
		AlgorithmTag: tag,
		Mode:         string(mode),
		OrderedStops: make([]model.Waypoint, len(tour)),
		Order:        append([]int(nil), tour...),
		Segments:     make([]model.RouteSegment, 0, len(tour)-1),
	}
	for i, idx := range tour {
		c.OrderedStops[i] = waypoints[idx]
	}
	rel := geo.Reliability(mode)
	for i := 0; i+1 < len(tour); i++ {
		from, to := waypoints[tour[i]], waypoints[tour[i+1]]
		var dist float64
		var dur int
		if legs != nil {
			dist = legs[i].DistanceKm
			dur = int(math.Round(legs[i].DurationMin)) + geo.BufferMin
		} else {
			dist = legDistance(from, to)
			dur = geo.TravelTime(dist, mode)
		}
		seg := model.RouteSegment{
			Mode:        string(mode),
			From:        from,
			To:          to,
			DistanceKm:  dist,
			DurationMin: dur,
			Cost:        geo.Fare(dist, mode),
			Reliability: rel,
		}
		c.Segments = append(c.Segments, seg)
		c.TotalDistanceKm += seg.DistanceKm
		c.TotalDurationMin += seg.DurationMin
		c.TotalCost += seg.Cost
	}
	return c, nil
}

func legDistance(a, b model.Waypoint) float64 {
	if !geo.ValidCoordinate(a.Lat, a.Lng) || !geo.ValidCoordinate(b.Lat, b.Lng) {
		return opt.SentinelDistanceKm
	}
	return geo.Distance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Rank returns the index of the default candidate: lowest total cost, then
// lowest one-way distance, then earliest produced. It returns -1 for no candidates.
func Rank(cands []model.CandidateRoute) int {
	best := -1
	for i, c := range cands {
		if best == -1 {
			best = i
			continue
		}
		b := cands[best]
		if c.TotalCost < b.TotalCost || (c.TotalCost == b.TotalCost && c.TotalDistanceKm < b.TotalDistanceKm) {
			best = i
		}
	}
	return best
}
