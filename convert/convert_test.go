package convert

import (
	"testing"

	"github.com/brensch/greedysnake/game"
)

func TestCellValue_Table(t *testing.T) {
	want := map[game.CellKind]float32{
		game.Road:      0,
		game.Wall:      0.25,
		game.SnakeHead: 0.5,
		game.SnakeBody: 0.75,
		game.Food:      1,
	}
	for k, v := range want {
		if got := CellValue(k); got != v {
			t.Fatalf("CellValue(%v)=%v want=%v", k, got, v)
		}
	}
	if got := CellValue(game.CellKind(200)); got != 0 {
		t.Fatalf("unknown kind=%v want=0", got)
	}
}

func TestFrameStack_FillAndPush(t *testing.T) {
	e := game.MustNewEngine(game.Config{Width: 7, Height: 7, Seed: 4})
	s := NewFrameStack(7, 7, 4)
	s.Fill(e.Board())

	head := e.Head()
	for k := 0; k < 4; k++ {
		if got := s.At(head.X, head.Y, k); got != 0.5 {
			t.Fatalf("frame %d head=%v want=0.5", k, got)
		}
		if got := s.At(0, 0, k); got != 0.25 {
			t.Fatalf("frame %d corner=%v want=0.25", k, got)
		}
	}

	tail := e.Tail()
	dir := game.Left
	if e.Cell(head.Add(dir.Delta())) == game.Food {
		dir = game.Right
	}
	e.Move(dir)
	s.Push(e.Board())

	// Newest frame sees the move; older frames keep the start position.
	if got := s.At(head.X, head.Y, 0); got != 0.75 {
		t.Fatalf("frame 0 old head=%v want=0.75", got)
	}
	if got := s.At(tail.X, tail.Y, 0); got != 0 {
		t.Fatalf("frame 0 old tail=%v want=0", got)
	}
	for k := 1; k < 4; k++ {
		if got := s.At(head.X, head.Y, k); got != 0.5 {
			t.Fatalf("frame %d old head=%v want=0.5", k, got)
		}
	}
}

func TestFrameStack_Layout(t *testing.T) {
	b, err := game.NewBoard(5, 6)
	if err != nil {
		t.Fatal(err)
	}
	b.Set(game.Position{X: 2, Y: 3}, game.Food)
	s := NewFrameStack(5, 6, 2)
	s.Fill(b)

	if got := s.Shape(); got != [3]int{5, 6, 2} {
		t.Fatalf("shape=%v", got)
	}
	data := s.Snapshot()
	idx := (2*6 + 3) * 2
	if data[idx] != 1 || data[idx+1] != 1 {
		t.Fatalf("food at flat index %d = %v,%v", idx, data[idx], data[idx+1])
	}
}

func TestBufferPool_DropsWrongSize(t *testing.T) {
	p := NewBufferPool(8)
	b := p.Get()
	if len(*b) != 8 {
		t.Fatalf("len=%d want=8", len(*b))
	}
	p.Put(b)
	short := make([]float32, 3)
	p.Put(&short)
	if got := p.Get(); len(*got) != 8 {
		t.Fatalf("pool returned a %d-length buffer", len(*got))
	}
}
