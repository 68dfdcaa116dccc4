package engine

import "math/rand"

// Rand is the engine's randomness source. Vitals jitter and non-DKA lab
// values draw from it; injecting a fixed source makes ticks fully
// deterministic for replay and tests.
type Rand interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

type sysRand struct{ r *rand.Rand }

// NewRand returns a production randomness source.
func NewRand(seed int64) Rand {
	return &sysRand{r: rand.New(rand.NewSource(seed))}
}

func (s *sysRand) Float64() float64 { return s.r.Float64() }
