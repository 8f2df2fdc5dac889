package game

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var ErrSnakeDoesNotFit = errors.New("initial snake does not fit on board")

const (
	DefaultWidth  = 50
	DefaultHeight = 50
)

// Config holds construction parameters. A zero Seed seeds the random source
// from the clock; the effective seed is available from Engine.Seed.
type Config struct {
	Width  int
	Height int
	Seed   int64
}

func DefaultConfig() Config {
	return Config{Width: DefaultWidth, Height: DefaultHeight}
}

// Engine is one snake game. It owns its board, snake and random source.
type Engine struct {
	board  *Board
	snake  Snake
	placer *FoodPlacer
	seed   int64

	direction  Direction
	food       Position
	state      State
	score      int
	frameIndex int
}

func NewEngine(cfg Config) (*Engine, error) {
	board, err := NewBoard(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	start := initialHead(cfg.Width, cfg.Height)
	tail := start.Add(Position{Y: InitialSnakeLength - 1})
	if start.Y < 1 || tail.Y > cfg.Height-2 {
		return nil, fmt.Errorf("%w: height %d", ErrSnakeDoesNotFit, cfg.Height)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		board:  board,
		placer: NewFoodPlacer(rand.New(rand.NewSource(seed))),
		seed:   seed,
	}
	e.initialize()
	return e, nil
}

// MustNewEngine is like NewEngine but panics on invalid dimensions.
func MustNewEngine(cfg Config) *Engine {
	e, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

func initialHead(width, height int) Position {
	return Position{X: width / 2, Y: height/2 - 2}
}

func (e *Engine) initialize() {
	e.board.Init()

	e.snake.Init(initialHead(e.board.width, e.board.height))
	for i, p := range e.snake.body {
		if i == 0 {
			e.board.Set(p, SnakeHead)
		} else {
			e.board.Set(p, SnakeBody)
		}
	}

	e.direction = Up
	e.state = Running
	e.score = 0
	e.frameIndex = 0

	e.food = NoFood
	if p, ok := e.placer.Place(e.board); ok {
		e.food = p
	}
}

// Reset returns the engine to its initial conditions. The random source
// continues from where it was, so successive episodes see different food.
func (e *Engine) Reset() {
	e.initialize()
}

// Move advances the snake one cell in dir and reports whether the move was
// accepted. Moves after a terminal state, reversals of the current facing
// and unknown directions are ignored.
func (e *Engine) Move(dir Direction) bool {
	if e.state != Running {
		return false
	}
	if !dir.Valid() || dir == e.direction.Opposite() {
		return false
	}

	head := e.snake.Head()
	next := head.Add(dir.Delta())

	switch e.board.Get(next) {
	case Food:
		e.board.Set(head, SnakeBody)
		e.snake.Advance(next, true)
		e.board.Set(next, SnakeHead)
		e.score++
		if e.board.CountRoad() == 0 {
			e.state = Win
			e.food = NoFood
		} else if p, ok := e.placer.Place(e.board); ok {
			e.food = p
		}
	case Road:
		e.board.Set(e.snake.Tail(), Road)
		e.board.Set(head, SnakeBody)
		e.snake.Advance(next, false)
		e.board.Set(next, SnakeHead)
	default:
		e.state = Lose
		e.score = 0
	}

	e.direction = dir
	e.frameIndex++
	return true
}

func (e *Engine) Board() *Board        { return e.board }
func (e *Engine) Width() int           { return e.board.width }
func (e *Engine) Height() int          { return e.board.height }
func (e *Engine) Seed() int64          { return e.seed }
func (e *Engine) Direction() Direction { return e.direction }
func (e *Engine) Food() Position       { return e.food }
func (e *Engine) State() State         { return e.state }
func (e *Engine) Score() int           { return e.score }
func (e *Engine) FrameIndex() int      { return e.frameIndex }
func (e *Engine) Head() Position       { return e.snake.Head() }
func (e *Engine) Tail() Position       { return e.snake.Tail() }
func (e *Engine) Length() int          { return e.snake.Len() }
func (e *Engine) Snake() []Position    { return e.snake.Segments() }

// Cell returns the classification of p.
func (e *Engine) Cell(p Position) CellKind { return e.board.Get(p) }

// Snapshot is a read-only copy of the engine for renderers and recorders.
type Snapshot struct {
	Width      int
	Height     int
	Cells      []CellKind // row-major, index y*Width+x
	Snake      []Position
	Length     int
	Food       Position
	Direction  Direction
	State      State
	Score      int
	FrameIndex int
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Width:      e.board.width,
		Height:     e.board.height,
		Cells:      e.board.Cells(),
		Snake:      e.snake.Segments(),
		Length:     e.snake.Len(),
		Food:       e.food,
		Direction:  e.direction,
		State:      e.state,
		Score:      e.score,
		FrameIndex: e.frameIndex,
	}
}

// At returns the cell kind at p.
func (s Snapshot) At(p Position) CellKind {
	return s.Cells[p.Y*s.Width+p.X]
}
