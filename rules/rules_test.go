package rules

import (
	"fmt"
	"strings"
	"testing"

	"github.com/brensch/greedysnake/game"
)

func dumpEngine(e *game.Engine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frame=%d Score=%d State=%s Dir=%s Food=(%d,%d)\n",
		e.FrameIndex(), e.Score(), e.State(), e.Direction(), e.Food().X, e.Food().Y)
	b.WriteString(e.Board().String())
	return b.String()
}

func TestSafeMoves_Initial(t *testing.T) {
	e := game.MustNewEngine(game.Config{Width: 7, Height: 7, Seed: 1})
	t.Logf("\n%s", dumpEngine(e))

	// Head at (3,1) facing up: up is the wall, down is the reversal.
	got := SafeMoves(e)
	want := []game.Direction{game.Left, game.Right}
	if len(got) != len(want) {
		t.Fatalf("SafeMoves=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SafeMoves=%v want=%v", got, want)
		}
	}
	if IsTerminal(e) {
		t.Fatalf("fresh engine reported terminal")
	}
}

func TestIsSafe_AgreesWithEngine(t *testing.T) {
	e := game.MustNewEngine(game.Config{Width: 9, Height: 9, Seed: 12})
	for step := 0; step < 400; step++ {
		dir := game.Direction(step * 5 % 4)
		safe := IsSafe(e, dir)
		accepted := e.Move(dir)
		if safe && (!accepted || e.State() == game.Lose) {
			t.Fatalf("step %d: %v judged safe but engine accepted=%v state=%v\n%s", step, dir, accepted, e.State(), dumpEngine(e))
		}
		if accepted && !safe && e.State() != game.Lose {
			t.Fatalf("step %d: %v judged unsafe but snake survived\n%s", step, dir, dumpEngine(e))
		}
		if e.State().Terminal() {
			if !IsTerminal(e) {
				t.Fatalf("terminal engine not reported terminal")
			}
			e.Reset()
		}
	}
}

func TestIsSafe_TerminalEngine(t *testing.T) {
	e := game.MustNewEngine(game.Config{Width: 7, Height: 7, Seed: 1})
	for i := 0; i < 4; i++ {
		e.Move(game.Left)
	}
	if e.State() != game.Lose {
		t.Fatalf("state=%v want lose", e.State())
	}
	if len(SafeMoves(e)) != 0 {
		t.Fatalf("lost engine has safe moves")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(game.Position{X: 1, Y: 5}, game.Position{X: 4, Y: 1}); d != 7 {
		t.Fatalf("Distance=%d want=7", d)
	}
}
