// Package agent provides action-selection policies for the environment.
package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/brensch/greedysnake/convert"
	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/rules"
)

// Policy picks the next action for an environment.
type Policy interface {
	Name() string
	Act(ctx context.Context, e *env.Env) (int, error)
}

// Predictor scores the four actions for one observation. Higher is better.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

const (
	NameRandom      = "random"
	NameGreedy      = "greedy"
	NameModel       = "model"
	NameModelSample = "model-sample"
)

// ByName builds a policy. The model policy requires a predictor.
func ByName(name string, seed int64, p Predictor) (Policy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case NameRandom:
		return NewRandom(seed), nil
	case NameGreedy:
		return Greedy{}, nil
	case NameModel, NameModelSample:
		if p == nil {
			return nil, fmt.Errorf("policy %q needs a predictor", name)
		}
		if name == NameModelSample {
			return NewSamplingModel(p, 1, seed), nil
		}
		return NewModel(p), nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// Random samples actions uniformly, reversals included.
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return NameRandom }

func (r *Random) Act(_ context.Context, _ *env.Env) (int, error) {
	return r.rng.Intn(env.NumActions), nil
}

// Greedy heads for the food along safe moves, breaking ties in action order.
// With no safe move it keeps its heading and takes the loss.
type Greedy struct{}

func (Greedy) Name() string { return NameGreedy }

func (Greedy) Act(_ context.Context, e *env.Env) (int, error) {
	eng := e.Engine()
	moves := rules.SafeMoves(eng)
	if len(moves) == 0 {
		return int(eng.Direction()), nil
	}

	food := eng.Food()
	if food == game.NoFood {
		return int(moves[0]), nil
	}

	best := moves[0]
	bestDist := rules.Distance(rules.NextHead(eng, best), food)
	for _, d := range moves[1:] {
		if dist := rules.Distance(rules.NextHead(eng, d), food); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return int(best), nil
}

// Model asks a predictor for action scores and takes the best non-reversal.
// A sampling model instead draws from the softmax of the scores.
type Model struct {
	predictor   Predictor
	temperature float64

	mu    sync.Mutex
	pools map[int]*convert.BufferPool
	rng   *rand.Rand
}

func NewModel(p Predictor) *Model {
	return &Model{predictor: p, pools: make(map[int]*convert.BufferPool)}
}

// NewSamplingModel samples actions at the given softmax temperature.
func NewSamplingModel(p Predictor, temperature float64, seed int64) *Model {
	m := NewModel(p)
	m.temperature = temperature
	m.rng = rand.New(rand.NewSource(seed))
	return m
}

func (m *Model) Name() string {
	if m.rng != nil {
		return NameModelSample
	}
	return NameModel
}

func (m *Model) pool(size int) *convert.BufferPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[size]
	if !ok {
		p = convert.NewBufferPool(size)
		m.pools[size] = p
	}
	return p
}

func (m *Model) Act(ctx context.Context, e *env.Env) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pool := m.pool(e.ObservationSize())
	buf := pool.Get()
	defer pool.Put(buf)
	e.ObserveInto(*buf)

	scores, err := m.predictor.Predict(*buf)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	if len(scores) < env.NumActions {
		return 0, fmt.Errorf("predictor returned %d scores, want %d", len(scores), env.NumActions)
	}

	reverse := int(e.Engine().Direction().Opposite())
	if m.rng != nil {
		probs := softmax(scores, m.temperature, reverse)
		m.mu.Lock()
		defer m.mu.Unlock()
		return sampleAction(m.rng, probs), nil
	}

	best := -1
	for a := 0; a < env.NumActions; a++ {
		if a == reverse {
			continue
		}
		if best < 0 || scores[a] > scores[best] {
			best = a
		}
	}
	return best, nil
}
