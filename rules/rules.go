// Package rules answers move-safety questions about a running engine
// without mutating it.
package rules

import (
	"github.com/brensch/greedysnake/game"
)

// NextHead returns where the head would land after moving in dir.
func NextHead(e *game.Engine, dir game.Direction) game.Position {
	return e.Head().Add(dir.Delta())
}

// IsSafe reports whether moving in dir keeps the snake alive this turn:
// the move is not a reversal and the target cell is road or food.
func IsSafe(e *game.Engine, dir game.Direction) bool {
	if e.State() != game.Running || !dir.Valid() {
		return false
	}
	if dir == e.Direction().Opposite() {
		return false
	}
	switch e.Cell(NextHead(e, dir)) {
	case game.Road, game.Food:
		return true
	}
	return false
}

// SafeMoves returns the safe directions in action order.
func SafeMoves(e *game.Engine) []game.Direction {
	moves := make([]game.Direction, 0, len(game.Directions))
	for _, d := range game.Directions {
		if IsSafe(e, d) {
			moves = append(moves, d)
		}
	}
	return moves
}

// IsTerminal returns true if the episode is over or the snake has no safe
// move left.
func IsTerminal(e *game.Engine) bool {
	if e.State() != game.Running {
		return true
	}
	return len(SafeMoves(e)) == 0
}

// Distance is the Manhattan distance between two positions.
func Distance(a, b game.Position) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
