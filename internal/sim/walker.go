package sim

import (
	"math"
	"math/rand/v2"
)

// Walker is a disk-shaped source moving over the grid. While it moves it
// stamps its footprint every StepEvery frames; the first moving frame after
// a stop stamps at once.
type Walker struct {
	// Row and Col locate the centre in cell units.
	Row, Col float64
	// HeadRow and HeadCol are the unit direction of the last move.
	HeadRow, HeadCol float64

	StepEvery int
	Strength  float32

	radius     int
	footprint  []Offset
	rows, cols int
	frames     int
}

// NewWalker centres a walker of the given radius on a rows x cols grid,
// heading toward row 0.
func NewWalker(rows, cols, radius, stepEvery int, strength float32) *Walker {
	return &Walker{
		Row:       float64(rows / 2),
		Col:       float64(cols / 2),
		HeadRow:   -1,
		StepEvery: max(stepEvery, 1),
		Strength:  strength,
		radius:    radius,
		footprint: Footprint(radius),
		rows:      rows,
		cols:      cols,
		frames:    stepEvery,
	}
}

// Footprint returns the offsets the walker covers.
func (w *Walker) Footprint() []Offset { return w.footprint }

// Cell returns the cell under the centre.
func (w *Walker) Cell() (i, j int) { return int(w.Row), int(w.Col) }

// Inside reports whether a centre at (row, col) keeps the whole footprint on
// the grid.
func (w *Walker) Inside(row, col float64) bool {
	r := float64(w.radius)
	return row > r && row < float64(w.rows-w.radius-1) && col > r && col < float64(w.cols-w.radius-1)
}

// Move shifts the walker by (dRow, dCol), clamped so the footprint stays on
// the grid, and appends a footstep to dst when one is due.
func (w *Walker) Move(dst []Disturbance, dRow, dCol float64) []Disturbance {
	r := float64(w.radius)
	w.Row = min(max(w.Row+dRow, r), float64(w.rows-w.radius-1))
	w.Col = min(max(w.Col+dCol, r), float64(w.cols-w.radius-1))
	if dRow == 0 && dCol == 0 {
		w.frames = w.StepEvery
		return dst
	}
	n := math.Hypot(dRow, dCol)
	w.HeadRow, w.HeadCol = dRow/n, dCol/n
	w.frames++
	if w.frames < w.StepEvery {
		return dst
	}
	w.frames = 0
	i, j := w.Cell()
	return Stamp(dst, w.footprint, w.rows, w.cols, i, j, w.Strength)
}

// Wander steers a Walker along random headings, holding each for 20 to 69
// frames and turning early when the next move would leave the grid.
type Wander struct {
	rng        *rand.Rand
	dRow, dCol float64
	hold       int
}

// NewWander seeds a wander.
func NewWander(seed uint64) *Wander {
	return &Wander{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a move of length speed for w, or zero when five headings in a
// row would leave the grid.
func (d *Wander) Next(w *Walker, speed float64) (dRow, dCol float64) {
	for range 5 {
		if d.hold <= 0 {
			a := d.rng.Float64() * 2 * math.Pi
			d.dRow, d.dCol = math.Sin(a), math.Cos(a)
			d.hold = 20 + d.rng.IntN(50)
		}
		dRow, dCol = d.dRow*speed, d.dCol*speed
		if w.Inside(w.Row+dRow, w.Col+dCol) {
			d.hold--
			return dRow, dCol
		}
		d.hold = 0
	}
	return 0, 0
}
