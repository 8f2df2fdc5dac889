package game

// InitialSnakeLength is the number of segments a snake starts with.
const InitialSnakeLength = 4

// Snake is the ordered occupancy of the snake, head first.
//
// It does not touch the board; the engine keeps cell classifications in step
// with every Advance.
type Snake struct {
	body []Position
}

// Init lays the snake out vertically from start downward, head on top.
func (s *Snake) Init(start Position) {
	s.body = s.body[:0]
	for i := 0; i < InitialSnakeLength; i++ {
		s.body = append(s.body, start.Add(Position{X: 0, Y: i}))
	}
}

// Advance makes next the new head. Without grow the tail segment is dropped
// so the length is unchanged.
func (s *Snake) Advance(next Position, grow bool) {
	if grow {
		s.body = append(s.body, Position{})
	}
	copy(s.body[1:], s.body[:len(s.body)-1])
	s.body[0] = next
}

func (s *Snake) Head() Position { return s.body[0] }
func (s *Snake) Tail() Position { return s.body[len(s.body)-1] }
func (s *Snake) Len() int       { return len(s.body) }

// Segments returns a copy of the body, head first.
func (s *Snake) Segments() []Position {
	out := make([]Position, len(s.body))
	copy(out, s.body)
	return out
}
