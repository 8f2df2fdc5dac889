package game

import (
	"errors"
	"fmt"
)

// MinBoardSize is the smallest width or height that leaves a usable interior.
const MinBoardSize = 5

var ErrBoardTooSmall = errors.New("board too small")

// Board stores cell classifications in a flat row-major buffer.
//
// Every border cell is Wall. Reachable head positions are always inside the
// border, so Get and Set do not bounds-check on the hot path; building with
// the debugchecks tag turns on range assertions.
type Board struct {
	width  int
	height int
	cells  []CellKind
}

func NewBoard(width, height int) (*Board, error) {
	if width < MinBoardSize || height < MinBoardSize {
		return nil, fmt.Errorf("%w: %dx%d (minimum %dx%d)", ErrBoardTooSmall, width, height, MinBoardSize, MinBoardSize)
	}
	b := &Board{
		width:  width,
		height: height,
		cells:  make([]CellKind, width*height),
	}
	b.Init()
	return b, nil
}

// Init resets the board to walls around an all-road interior.
func (b *Board) Init() {
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			kind := Road
			if x == 0 || x == b.width-1 || y == 0 || y == b.height-1 {
				kind = Wall
			}
			b.cells[y*b.width+x] = kind
		}
	}
}

func (b *Board) Width() int  { return b.width }
func (b *Board) Height() int { return b.height }

func (b *Board) InBounds(p Position) bool {
	return p.X >= 0 && p.X < b.width && p.Y >= 0 && p.Y < b.height
}

func (b *Board) offset(p Position) int {
	if debugChecks && !b.InBounds(p) {
		panic(fmt.Sprintf("game: position %v outside %dx%d board", p, b.width, b.height))
	}
	return p.Y*b.width + p.X
}

func (b *Board) Get(p Position) CellKind {
	return b.cells[b.offset(p)]
}

func (b *Board) Set(p Position, kind CellKind) {
	b.cells[b.offset(p)] = kind
}

// CountRoad returns the number of Road cells.
func (b *Board) CountRoad() int {
	n := 0
	for _, c := range b.cells {
		if c == Road {
			n++
		}
	}
	return n
}

// Cells returns a row-major copy of the grid: index y*Width()+x.
func (b *Board) Cells() []CellKind {
	out := make([]CellKind, len(b.cells))
	copy(out, b.cells)
	return out
}

// AppendBytes appends the row-major grid to dst as one byte per cell.
func (b *Board) AppendBytes(dst []byte) []byte {
	for _, c := range b.cells {
		dst = append(dst, byte(c))
	}
	return dst
}
