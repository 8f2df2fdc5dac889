// Package env wraps the game engine as a reinforcement-learning
// environment with reset/step semantics and stacked-frame observations.
package env

import (
	"fmt"
	"strings"

	"github.com/brensch/greedysnake/convert"
	"github.com/brensch/greedysnake/game"
)

// NumActions is the size of the discrete action space: 0=Up, 1=Down,
// 2=Left, 3=Right.
const NumActions = 4

// RewardMode selects how Step computes its reward.
type RewardMode int

const (
	// RewardScore reports the current score at every step.
	RewardScore RewardMode = iota
	// RewardDelta reports the change in score since the previous step.
	RewardDelta
)

func (m RewardMode) String() string {
	switch m {
	case RewardScore:
		return "score"
	case RewardDelta:
		return "delta"
	}
	return "unknown"
}

func ParseRewardMode(s string) (RewardMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "score":
		return RewardScore, nil
	case "delta":
		return RewardDelta, nil
	}
	return RewardScore, fmt.Errorf("unknown reward mode %q", s)
}

type Config struct {
	Width  int
	Height int
	Seed   int64
	Frames int
	Reward RewardMode
}

func DefaultConfig() Config {
	return Config{
		Width:  game.DefaultWidth,
		Height: game.DefaultHeight,
		Frames: convert.DefaultFrames,
		Reward: RewardScore,
	}
}

// Info carries per-step diagnostics. Learning code should not depend on it.
type Info struct {
	FrameIndex int        `json:"frame_index"`
	Score      int        `json:"score"`
	State      game.State `json:"state"`
	Accepted   bool       `json:"accepted"`
	Length     int        `json:"length"`
}

// Env is a single environment instance. Like the engine it wraps, it is not
// safe for concurrent use.
type Env struct {
	cfg       Config
	engine    *game.Engine
	frames    *convert.FrameStack
	lastScore int
}

func New(cfg Config) (*Env, error) {
	if cfg.Frames <= 0 {
		cfg.Frames = convert.DefaultFrames
	}
	engine, err := game.NewEngine(game.Config{Width: cfg.Width, Height: cfg.Height, Seed: cfg.Seed})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	e := &Env{
		cfg:    cfg,
		engine: engine,
		frames: convert.NewFrameStack(cfg.Width, cfg.Height, cfg.Frames),
	}
	e.frames.Fill(engine.Board())
	return e, nil
}

// Reset starts a new episode and returns its first observation, with every
// frame slot holding the initial board.
func (e *Env) Reset() []float32 {
	e.engine.Reset()
	e.frames.Fill(e.engine.Board())
	e.lastScore = 0
	return e.frames.Snapshot()
}

// Step applies action and returns (observation, reward, done, info).
// Rejected actions (reversals, out-of-range values, moves after the episode
// ended) still advance the frame stack so every step yields an observation.
func (e *Env) Step(action int) ([]float32, float32, bool, Info) {
	accepted := e.engine.Move(game.Direction(action))
	e.frames.Push(e.engine.Board())

	score := e.engine.Score()
	reward := float32(score)
	if e.cfg.Reward == RewardDelta {
		reward = float32(score - e.lastScore)
	}
	e.lastScore = score

	info := Info{
		FrameIndex: e.engine.FrameIndex(),
		Score:      score,
		State:      e.engine.State(),
		Accepted:   accepted,
		Length:     e.engine.Length(),
	}
	return e.frames.Snapshot(), reward, e.engine.State() != game.Running, info
}

// Observe returns a copy of the current observation.
func (e *Env) Observe() []float32 { return e.frames.Snapshot() }

// ObserveInto copies the current observation into dst, which must hold
// ObservationSize values.
func (e *Env) ObserveInto(dst []float32) { e.frames.CopyTo(dst) }

// ObservationShape returns (Width, Height, Frames).
func (e *Env) ObservationShape() [3]int { return e.frames.Shape() }

func (e *Env) ObservationSize() int { return e.frames.Len() }

func (e *Env) Config() Config { return e.cfg }

// Engine exposes the wrapped engine for read access. Moving it directly
// bypasses the frame stack.
func (e *Env) Engine() *game.Engine { return e.engine }

func (e *Env) Done() bool { return e.engine.State() != game.Running }
