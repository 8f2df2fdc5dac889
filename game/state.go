// Package game implements the single-player snake simulation.
//
// The engine is deterministic given a seed: the only randomness is food
// placement, drawn from a *rand.Rand owned by the engine. All operations are
// synchronous and the engine is not safe for concurrent use; callers run one
// engine per goroutine.
package game

import "fmt"

// Position is a board coordinate. (0,0) is the top-left corner and Y grows
// downward.
type Position struct {
	X int
	Y int
}

// NoFood marks the absence of a live food cell.
var NoFood = Position{X: -1, Y: -1}

// Add returns p translated by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionDeltas = [...]Position{
	Up:    {X: 0, Y: -1},
	Down:  {X: 0, Y: 1},
	Left:  {X: -1, Y: 0},
	Right: {X: 1, Y: 0},
}

var directionNames = [...]string{"up", "down", "left", "right"}

// Directions lists every valid direction in action order.
var Directions = []Direction{Up, Down, Left, Right}

func (d Direction) Valid() bool {
	return d >= Up && d <= Right
}

// Delta is the unit step for d. Invalid directions return the zero Position.
func (d Direction) Delta() Position {
	if !d.Valid() {
		return Position{}
	}
	return directionDeltas[d]
}

func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return d
}

func (d Direction) String() string {
	if !d.Valid() {
		return "invalid"
	}
	return directionNames[d]
}

// CellKind classifies a board cell.
type CellKind uint8

const (
	Road CellKind = iota
	Wall
	SnakeHead
	SnakeBody
	Food
)

// MaxCellKind is the largest CellKind ordinal.
const MaxCellKind = Food

func (k CellKind) String() string {
	switch k {
	case Road:
		return "road"
	case Wall:
		return "wall"
	case SnakeHead:
		return "head"
	case SnakeBody:
		return "body"
	case Food:
		return "food"
	}
	return "unknown"
}

// State is the episode state. Win and Lose are terminal.
type State int

const (
	Running State = iota
	Win
	Lose
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Win:
		return "win"
	case Lose:
		return "lose"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == Win || s == Lose
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "running":
		*s = Running
	case "win":
		*s = Win
	case "lose":
		*s = Lose
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}
