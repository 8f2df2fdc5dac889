// food.go implements food placement for the engine.

package game

import (
	"math/rand"
)

// FoodPlacer picks food cells with a linear probe from a random start.
//
// The probe maps a linear index to (count / width, count % width), using the
// width for both the divisor and the modulus. On square boards that covers
// every cell exactly once per cycle. On non-square boards some probe
// coordinates fall outside the grid (treated as occupied) and some cells are
// never probed, so after a fruitless cycle a row-major scan from the same
// start takes over.
type FoodPlacer struct {
	rng *rand.Rand
}

func NewFoodPlacer(rng *rand.Rand) *FoodPlacer {
	return &FoodPlacer{rng: rng}
}

// Place marks a Road cell as Food and returns it. ok is false only when the
// board has no Road cell; the board is left untouched in that case.
func (f *FoodPlacer) Place(b *Board) (Position, bool) {
	total := b.width * b.height
	start := f.rng.Intn(total)

	count := start
	for i := 0; i < total; i++ {
		p := Position{X: count / b.width, Y: count % b.width}
		if b.InBounds(p) && b.Get(p) == Road {
			b.Set(p, Food)
			return p, true
		}
		count = (count + 1) % total
	}

	if b.width == b.height {
		return NoFood, false
	}

	count = start
	for i := 0; i < total; i++ {
		p := Position{X: count % b.width, Y: count / b.width}
		if b.Get(p) == Road {
			b.Set(p, Food)
			return p, true
		}
		count = (count + 1) % total
	}
	return NoFood, false
}
