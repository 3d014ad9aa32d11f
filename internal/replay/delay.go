package replay

import (
	"math/rand/v2"
)

// DefaultSeed seeds the delay generator when Config.Seed is zero.
const DefaultSeed uint64 = 7452

// delayGenerator draws per-ride delays from a normal distribution with mean
// and standard deviation of half the maximum delay, truncated to [0, max].
type delayGenerator struct {
	rnd      *rand.Rand
	maxDelay int64
}

func newDelayGenerator(maxDelayMillis int64, seed uint64) *delayGenerator {
	return &delayGenerator{
		rnd:      rand.New(rand.NewPCG(seed, seed)),
		maxDelay: maxDelayMillis,
	}
}

// next returns a delay in milliseconds. Out of range draws are rejected.
func (g *delayGenerator) next() int64 {
	if g.maxDelay <= 0 {
		return 0
	}
	mean := float64(g.maxDelay) / 2
	stddev := mean
	for {
		d := int64(g.rnd.NormFloat64()*stddev + mean)
		if d >= 0 && d <= g.maxDelay {
			return d
		}
	}
}
