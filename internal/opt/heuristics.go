package opt

// Greedy keeps the caller's input order. It is the control candidate.
func Greedy(m *Matrix) Solution {
	return Evaluate(m, identity(m.Len()))
}

// NearestNeighbor builds a tour from the origin by always moving to the closest
// unvisited index. Lower indices win ties. If nothing reachable is left, the
// remaining indices are appended in ascending order.
func NearestNeighbor(m *Matrix) Solution {
	n := m.Len()
	if n == 0 {
		return Solution{}
	}
	visited := make([]bool, n)
	tour := make([]int, 0, n)
	tour = append(tour, 0)
	visited[0] = true
	cur := 0
	for len(tour) < n {
		next := -1
		best := 0.0
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			d := m.At(cur, j)
			if !usable(d) {
				continue
			}
			if next == -1 || d < best {
				next, best = j, d
			}
		}
		if next == -1 {
			for j := 0; j < n; j++ {
				if !visited[j] {
					visited[j] = true
					tour = append(tour, j)
				}
			}
			break
		}
		visited[next] = true
		tour = append(tour, next)
		cur = next
	}
	return Evaluate(m, tour)
}

// ImproveOrder2Opt applies 2-opt reversals to a tour while the closed length
// shrinks. Position 0 never moves. The input slice is not modified.
func ImproveOrder2Opt(m *Matrix, order []int, iterations int) Solution {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestDist, ok := ClosedTourDistance(m, best)
	if !ok {
		return Evaluate(m, best)
	}
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				d, ok := ClosedTourDistance(m, cand)
				if ok && d+1e-9 < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return Evaluate(m, best)
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
