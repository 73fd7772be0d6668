package opt

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTour = errors.New("invalid tour")

// Solution is a solver result. TotalDistance is the closed-tour length,
// i.e. it includes the edge from the last stop back to the origin.
type Solution struct {
	Tour          []int
	TotalDistance float64
	Fitness       float64
}

// ValidateTour checks that tour is a permutation of 0..n-1 starting at 0.
func ValidateTour(tour []int, n int) error {
	if n <= 0 || len(tour) != n {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidTour, len(tour), n)
	}
	if tour[0] != 0 {
		return fmt.Errorf("%w: starts at %d, want origin 0", ErrInvalidTour, tour[0])
	}
	seen := make([]bool, n)
	for _, v := range tour {
		if v < 0 || v >= n || seen[v] {
			return fmt.Errorf("%w: bad or repeated index %d", ErrInvalidTour, v)
		}
		seen[v] = true
	}
	return nil
}

// ClosedTourDistance sums consecutive edges plus the return edge to tour[0].
// The second result is false if any edge is missing or not a finite non-negative number.
func ClosedTourDistance(m *Matrix, tour []int) (float64, bool) {
	if len(tour) < 2 {
		return 0, true
	}
	total, ok := OpenPathDistance(m, tour)
	if !ok {
		return 0, false
	}
	back := m.At(tour[len(tour)-1], tour[0])
	if !usable(back) {
		return 0, false
	}
	return total + back, true
}

// OpenPathDistance sums consecutive edges without returning to the origin.
func OpenPathDistance(m *Matrix, tour []int) (float64, bool) {
	total := 0.0
	for i := 0; i+1 < len(tour); i++ {
		d := m.At(tour[i], tour[i+1])
		if !usable(d) {
			return 0, false
		}
		total += d
	}
	return total, true
}

// fitness is 1/closed distance, 0 for zero or unusable distances.
func fitness(m *Matrix, tour []int) float64 {
	d, ok := ClosedTourDistance(m, tour)
	if !ok || d <= 0 {
		return 0
	}
	return 1 / d
}

// Evaluate scores tour on m. Tours with unusable edges get an infinite distance
// and zero fitness.
func Evaluate(m *Matrix, tour []int) Solution {
	if len(tour) < 2 {
		return Solution{Tour: tour, TotalDistance: 0, Fitness: 1}
	}
	d, ok := ClosedTourDistance(m, tour)
	if !ok {
		return Solution{Tour: tour, TotalDistance: math.Inf(1), Fitness: 0}
	}
	s := Solution{Tour: tour, TotalDistance: d}
	if d > 0 {
		s.Fitness = 1 / d
	}
	return s
}

func usable(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}

func identity(n int) []int {
	t := make([]int, n)
	for i := range t {
		t[i] = i
	}
	return t
}
