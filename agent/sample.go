package agent

import (
	"math"
	"math/rand"

	"github.com/brensch/greedysnake/env"
)

// softmax turns action scores into probabilities at the given temperature.
// The masked action gets probability zero.
func softmax(scores []float32, temperature float64, masked int) [env.NumActions]float32 {
	var out [env.NumActions]float32
	if len(scores) < env.NumActions {
		return out
	}
	if temperature <= 0 {
		temperature = 1
	}

	maxV := float32(math.Inf(-1))
	for i := 0; i < env.NumActions; i++ {
		if i != masked && scores[i] > maxV {
			maxV = scores[i]
		}
	}
	sum := float32(0)
	for i := 0; i < env.NumActions; i++ {
		if i == masked {
			continue
		}
		e := float32(math.Exp(float64(scores[i]-maxV) / temperature))
		out[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

// sampleAction draws an index from probs. Rounding leftovers go to the last
// action with non-zero probability.
func sampleAction(rng *rand.Rand, probs [env.NumActions]float32) int {
	r := rng.Float32()
	cumulative := float32(0)
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		cumulative += p
		last = i
		if r < cumulative {
			return i
		}
	}
	return last
}
