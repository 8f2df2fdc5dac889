// Package convert encodes boards into the float observations consumed by
// learning code.
package convert

import (
	"sync"

	"github.com/brensch/greedysnake/game"
)

// DefaultFrames is the number of stacked frames in an observation.
const DefaultFrames = 4

// cellValues maps each cell kind to its observation value: the kind's
// ordinal divided by the largest ordinal. The table is explicit so that
// reordering the CellKind constants cannot silently change observations.
var cellValues = [...]float32{
	game.Road:      0,
	game.Wall:      0.25,
	game.SnakeHead: 0.5,
	game.SnakeBody: 0.75,
	game.Food:      1,
}

// CellValue returns the normalized observation value for k.
func CellValue(k game.CellKind) float32 {
	if int(k) >= len(cellValues) {
		return 0
	}
	return cellValues[k]
}

// FrameStack holds the last Depth board encodings in (Width, Height, Depth)
// order: index (x*Height+y)*Depth + k, with k=0 the newest frame.
type FrameStack struct {
	width  int
	height int
	depth  int
	data   []float32
}

func NewFrameStack(width, height, depth int) *FrameStack {
	if depth <= 0 {
		depth = DefaultFrames
	}
	return &FrameStack{
		width:  width,
		height: height,
		depth:  depth,
		data:   make([]float32, width*height*depth),
	}
}

// Shape returns (Width, Height, Depth).
func (s *FrameStack) Shape() [3]int { return [3]int{s.width, s.height, s.depth} }

func (s *FrameStack) Len() int { return len(s.data) }

// Fill writes the board into every frame slot.
func (s *FrameStack) Fill(b *game.Board) {
	for x := 0; x < s.width; x++ {
		for y := 0; y < s.height; y++ {
			v := CellValue(b.Get(game.Position{X: x, Y: y}))
			base := (x*s.height + y) * s.depth
			for k := 0; k < s.depth; k++ {
				s.data[base+k] = v
			}
		}
	}
}

// Push drops the oldest frame and writes the board as the newest.
func (s *FrameStack) Push(b *game.Board) {
	for x := 0; x < s.width; x++ {
		for y := 0; y < s.height; y++ {
			base := (x*s.height + y) * s.depth
			copy(s.data[base+1:base+s.depth], s.data[base:base+s.depth-1])
			s.data[base] = CellValue(b.Get(game.Position{X: x, Y: y}))
		}
	}
}

// At returns the value of cell (x, y) in frame k.
func (s *FrameStack) At(x, y, k int) float32 {
	return s.data[(x*s.height+y)*s.depth+k]
}

// CopyTo copies the stack into dst, which must hold Len() values.
func (s *FrameStack) CopyTo(dst []float32) {
	copy(dst, s.data)
}

// Snapshot returns a copy of the stack.
func (s *FrameStack) Snapshot() []float32 {
	out := make([]float32, len(s.data))
	copy(out, s.data)
	return out
}

// BufferPool recycles float buffers of one fixed size.
type BufferPool struct {
	size int
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() interface{} {
		b := make([]float32, size)
		return &b
	}
	return p
}

// Get returns a buffer from the pool. Contents are unspecified.
func (p *BufferPool) Get() *[]float32 {
	return p.pool.Get().(*[]float32)
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(b *[]float32) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}
