package game

import "testing"

func TestSnake_InitVertical(t *testing.T) {
	var s Snake
	s.Init(Position{X: 3, Y: 1})

	want := []Position{{X: 3, Y: 1}, {X: 3, Y: 2}, {X: 3, Y: 3}, {X: 3, Y: 4}}
	got := s.Segments()
	if len(got) != len(want) {
		t.Fatalf("len=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("body[%d]=%v want=%v", i, got[i], want[i])
		}
	}
	if s.Head() != want[0] || s.Tail() != want[3] {
		t.Fatalf("head=%v tail=%v", s.Head(), s.Tail())
	}
}

func TestSnake_AdvanceWithoutGrowth(t *testing.T) {
	var s Snake
	s.Init(Position{X: 3, Y: 1})
	s.Advance(Position{X: 2, Y: 1}, false)

	want := []Position{{X: 2, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 2}, {X: 3, Y: 3}}
	for i, p := range s.Segments() {
		if p != want[i] {
			t.Fatalf("body[%d]=%v want=%v", i, p, want[i])
		}
	}
}

func TestSnake_AdvanceWithGrowth(t *testing.T) {
	var s Snake
	s.Init(Position{X: 3, Y: 1})
	s.Advance(Position{X: 2, Y: 1}, true)
	s.Advance(Position{X: 1, Y: 1}, true)

	want := []Position{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 2}, {X: 3, Y: 3}, {X: 3, Y: 4}}
	got := s.Segments()
	if len(got) != len(want) {
		t.Fatalf("len=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("body[%d]=%v want=%v", i, got[i], want[i])
		}
	}
}

func TestSnake_ReinitReusesStorage(t *testing.T) {
	var s Snake
	s.Init(Position{X: 3, Y: 1})
	s.Advance(Position{X: 2, Y: 1}, true)
	s.Init(Position{X: 5, Y: 5})
	if s.Len() != InitialSnakeLength || s.Head() != (Position{X: 5, Y: 5}) {
		t.Fatalf("after re-init len=%d head=%v", s.Len(), s.Head())
	}
}
