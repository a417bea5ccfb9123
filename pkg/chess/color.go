package chess

import "fmt"

// Color represents a side of the board
type Color string

// Possible sides in a match
const (
	White Color = "w"
	Black Color = "b"

	NoColor Color = ""
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Valid reports whether c names one of the two sides
func (c Color) Valid() bool {
	return c == White || c == Black
}

// ParseColor accepts the short and long spellings of a side
func ParseColor(s string) (Color, error) {
	switch s {
	case "w", "white":
		return White, nil
	case "b", "black":
		return Black, nil
	}

	return NoColor, fmt.Errorf("unknown color %q", s)
}
