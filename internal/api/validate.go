package api

import (
	"fmt"

	"tripopt/internal/model"
)

// maxWaypoints keeps a single request within the GA's adaptive budget.
const maxWaypoints = 100

// validateOptimizeRequest checks the request shape; semantic checks (modes, GA
// bounds) are left to the planner. Out-of-range coordinates are accepted and
// penalized during planning.
func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if len(req.Waypoints) == 0 {
		return fmt.Errorf("waypoints must contain at least the origin")
	}
	if len(req.Waypoints) > maxWaypoints {
		return fmt.Errorf("at most %d waypoints are supported, got %d", maxWaypoints, len(req.Waypoints))
	}
	if len(req.Modes) > 4 {
		return fmt.Errorf("modes must list at most 4 entries")
	}
	if ga := req.GA; ga != nil && ga.PopulationSize > 1000 {
		return fmt.Errorf("ga.populationSize must be <= 1000")
	}
	if ga := req.GA; ga != nil && ga.Generations > 5000 {
		return fmt.Errorf("ga.generations must be <= 5000")
	}
	return nil
}
