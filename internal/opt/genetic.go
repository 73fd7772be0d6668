package opt

import (
	"math"
	"sort"
)

// GAParams tunes the genetic solver. Zero fields are filled from AdaptiveParams.
type GAParams struct {
	PopulationSize int     `json:"populationSize,omitempty" yaml:"population_size"`
	Generations    int     `json:"generations,omitempty" yaml:"generations"`
	MutationRate   float64 `json:"mutationRate,omitempty" yaml:"mutation_rate"`
	EliteSize      int     `json:"eliteSize,omitempty" yaml:"elite_size"`
}

const (
	eliteRatio        = 0.15
	widenedEliteRatio = 0.2
	maxTournamentSize = 5
)

// AdaptiveParams scales the search to the waypoint count n.
func AdaptiveParams(n int) GAParams {
	if n < 1 {
		n = 1
	}
	pop := clampInt(10*n, 50, 200)
	return GAParams{
		PopulationSize: pop,
		Generations:    clampInt(20*n, 100, 500),
		MutationRate:   clampFloat(0.8/float64(n), 0.01, 0.05),
		EliteSize:      int(math.Round(eliteRatio * float64(pop))),
	}
}

// Resolve merges p over the adaptive defaults for n. A population wider than the
// adaptive one keeps a larger elite share unless EliteSize is set explicitly.
func (p GAParams) Resolve(n int) GAParams {
	out := AdaptiveParams(n)
	ratio := eliteRatio
	if p.PopulationSize > 0 {
		if p.PopulationSize > out.PopulationSize {
			ratio = widenedEliteRatio
		}
		out.PopulationSize = p.PopulationSize
	}
	if p.Generations > 0 {
		out.Generations = p.Generations
	}
	if p.MutationRate > 0 {
		out.MutationRate = p.MutationRate
	}
	out.EliteSize = int(math.Round(ratio * float64(out.PopulationSize)))
	if p.EliteSize > 0 {
		out.EliteSize = p.EliteSize
	}
	if out.EliteSize > out.PopulationSize {
		out.EliteSize = out.PopulationSize
	}
	return out
}

// Progress is reported once per generation.
type Progress struct {
	Generation   int     `json:"generation"`
	Generations  int     `json:"generations"`
	BestFitness  float64 `json:"bestFitness"`
	BestDistance float64 `json:"bestDistanceKm"`
}

// GAOptions configures one Genetic run.
type GAOptions struct {
	Params   GAParams
	Rand     Rand
	Progress func(Progress)
}

// Metrics summarizes a Genetic run.
type Metrics struct {
	Params       GAParams
	Generations  int
	Evaluations  int
	Improvements int
	InitialBest  float64
	FinalBest    float64
	BestHistory  []float64 // best-so-far fitness after each generation
}

// Map flattens m for storage and JSON views.
func (m Metrics) Map() map[string]any {
	return map[string]any{
		"populationSize": m.Params.PopulationSize,
		"generations":    m.Generations,
		"mutationRate":   m.Params.MutationRate,
		"eliteSize":      m.Params.EliteSize,
		"evaluations":    m.Evaluations,
		"improvements":   m.Improvements,
		"initialBest":    m.InitialBest,
		"finalBest":      m.FinalBest,
	}
}

type individual struct {
	tour []int
	fit  float64
}

// Genetic evolves visiting orders with tournament selection, order crossover,
// swap mutation and elitism. Position 0 is pinned to the origin throughout.
// It always runs the full generation budget.
func Genetic(m *Matrix, o GAOptions) (Solution, Metrics) {
	n := m.Len()
	switch {
	case n < 2:
		return Solution{Tour: identity(n), TotalDistance: 0, Fitness: 1}, Metrics{}
	case n == 2:
		// direct closed tour, no search needed
		return Evaluate(m, []int{0, 1}), Metrics{}
	}
	rng := o.Rand
	if rng == nil {
		rng = NewRand(0)
	}
	params := o.Params.Resolve(n)
	size := params.PopulationSize
	if size < 1 {
		size = 1
	}
	met := Metrics{Params: params}

	pop := make([]individual, size)
	for i := range pop {
		t := identity(n)
		shuffle(t[1:], rng)
		pop[i] = individual{tour: t, fit: fitness(m, t)}
	}
	met.Evaluations = size
	best := fittest(pop)
	met.InitialBest = best.fit

	tsize := int(math.Ceil(float64(size) / 10))
	if tsize > maxTournamentSize {
		tsize = maxTournamentSize
	}
	if tsize < 1 {
		tsize = 1
	}

	for g := 0; g < params.Generations; g++ {
		sort.SliceStable(pop, func(i, j int) bool { return pop[i].fit > pop[j].fit })
		next := make([]individual, 0, size)
		for i := 0; i < params.EliteSize && i < len(pop); i++ {
			next = append(next, pop[i])
		}
		for len(next) < size {
			p1 := tournament(pop, tsize, rng)
			p2 := tournament(pop, tsize, rng)
			child := orderCrossover(p1.tour, p2.tour, rng)
			swapMutate(child, params.MutationRate, rng)
			next = append(next, individual{tour: child, fit: fitness(m, child)})
			met.Evaluations++
		}
		pop = next
		if cand := fittest(pop); cand.fit > best.fit {
			best = cand
			met.Improvements++
		}
		met.Generations++
		met.BestHistory = append(met.BestHistory, best.fit)
		if o.Progress != nil {
			d, _ := ClosedTourDistance(m, best.tour)
			o.Progress(Progress{Generation: g + 1, Generations: params.Generations, BestFitness: best.fit, BestDistance: d})
		}
	}
	met.FinalBest = best.fit
	sol := Evaluate(m, best.tour)
	sol.Fitness = best.fit
	return sol, met
}

// fittest returns a copy of the highest-fitness individual; the first wins ties.
func fittest(pop []individual) individual {
	bi := 0
	for i := 1; i < len(pop); i++ {
		if pop[i].fit > pop[bi].fit {
			bi = i
		}
	}
	return individual{tour: append([]int(nil), pop[bi].tour...), fit: pop[bi].fit}
}

// tournament samples k individuals with replacement and returns the fittest.
func tournament(pop []individual, k int, rng Rand) individual {
	w := pop[rng.Intn(len(pop))]
	for i := 1; i < k; i++ {
		c := pop[rng.Intn(len(pop))]
		if c.fit > w.fit {
			w = c
		}
	}
	return w
}

// orderCrossover (OX) copies p1[start:end) into the child and fills the remaining
// non-origin slots from p2's order, starting at end and wrapping past the last slot.
func orderCrossover(p1, p2 []int, rng Rand) []int {
	n := len(p1)
	child := make([]int, n)
	if n < 3 {
		copy(child, p1)
		return child
	}
	genes := n - 1
	start := 1 + rng.Intn(genes)
	last := 1 + rng.Intn(genes)
	if start > last {
		start, last = last, start
	}
	end := last + 1

	used := make([]bool, n)
	child[0] = p1[0]
	used[p1[0]] = true
	for i := start; i < end; i++ {
		child[i] = p1[i]
		used[p1[i]] = true
	}
	pos := end
	for _, g := range p2[1:] {
		if used[g] {
			continue
		}
		if pos >= n {
			pos = 1
		}
		child[pos] = g
		used[g] = true
		pos++
	}
	return child
}

// swapMutate swaps each non-origin position with another random non-origin
// position with probability rate.
func swapMutate(t []int, rate float64, rng Rand) {
	n := len(t)
	if n < 3 {
		return
	}
	for i := 1; i < n; i++ {
		if rng.Float64() < rate {
			j := 1 + rng.Intn(n-1)
			t[i], t[j] = t[j], t[i]
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
