package stamp

import (
	"errors"
	"fmt"

	"dtrsign/pdf/generic"
)

// ErrGridCapacityExceeded reports a day index beyond the grid's cells.
var ErrGridCapacityExceeded = errors.New("stamp grid capacity exceeded")

// Grid divides a bounding region into day cells for whole-month
// stamping. Cells are numbered 1-based, row-major from the top-left.
type Grid struct {
	Region generic.Rect
	Rows   int
	Cols   int
	// MaxCells caps the usable cells below Rows*Cols when set, for
	// layouts whose last row is partial.
	MaxCells int
}

// Capacity returns the number of usable cells.
func (g Grid) Capacity() int {
	c := g.Rows * g.Cols
	if g.MaxCells > 0 && g.MaxCells < c {
		c = g.MaxCells
	}
	return c
}

// Cell returns the rectangle for the 1-based day index.
func (g Grid) Cell(day int) (generic.Rect, error) {
	if g.Rows <= 0 || g.Cols <= 0 {
		return generic.Rect{}, fmt.Errorf("grid has no cells: %d rows x %d cols", g.Rows, g.Cols)
	}
	if day < 1 {
		return generic.Rect{}, fmt.Errorf("day index %d is not positive", day)
	}
	if day > g.Capacity() {
		return generic.Rect{}, fmt.Errorf("%w: day %d of %d cells", ErrGridCapacityExceeded, day, g.Capacity())
	}
	row := (day - 1) / g.Cols
	col := (day - 1) % g.Cols
	cellW := g.Region.Width() / float64(g.Cols)
	cellH := g.Region.Height() / float64(g.Rows)
	return generic.Rect{
		LLX: g.Region.LLX + float64(col)*cellW,
		LLY: g.Region.URY - float64(row+1)*cellH,
		URX: g.Region.LLX + float64(col+1)*cellW,
		URY: g.Region.URY - float64(row)*cellH,
	}, nil
}

// Cells returns the rectangles for days 1..n.
func (g Grid) Cells(n int) ([]generic.Rect, error) {
	out := make([]generic.Rect, 0, n)
	for day := 1; day <= n; day++ {
		cell, err := g.Cell(day)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}
