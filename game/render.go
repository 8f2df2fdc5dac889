package game

import "strings"

var cellGlyphs = [...]byte{
	Road:      '.',
	Wall:      '#',
	SnakeHead: 'H',
	SnakeBody: 'o',
	Food:      '*',
}

// Glyph is the single character used when rendering k as text.
func (k CellKind) Glyph() byte {
	if int(k) < len(cellGlyphs) {
		return cellGlyphs[k]
	}
	return '?'
}

// String renders the board as text, one line per row, top row first.
func (b *Board) String() string {
	var sb strings.Builder
	sb.Grow((b.width + 1) * b.height)
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			sb.WriteByte(b.cells[y*b.width+x].Glyph())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
