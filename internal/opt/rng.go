package opt

import (
	"math/rand"
	"time"
)

// Rand is the randomness the solvers consume. *rand.Rand satisfies it.
// Implementations need not be safe for concurrent use.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// NewRand returns a deterministic source for seed != 0 and a clock-seeded one otherwise.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// shuffle is an in-place Fisher-Yates shuffle.
func shuffle(a []int, rng Rand) {
	for i := len(a) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		a[i], a[j] = a[j], a[i]
	}
}
