package wave

import "math/rand/v2"

// Disturber drops random disturbances on a solver at a fixed interval of
// simulation time. Time is passed in by the caller; nothing is global.
type Disturber struct {
	Interval float32
	Min, Max float32

	rng     *rand.Rand
	elapsed float32
}

// NewDisturber seeds a disturber. Magnitudes are drawn from [min, max].
func NewDisturber(interval, min, max float32, seed uint64) *Disturber {
	return &Disturber{
		Interval: interval,
		Min:      min,
		Max:      max,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Advance adds dt to the disturber's clock. When Interval has passed it
// resets the clock, picks a cell in [4, rows-5] x [4, cols-5] and a
// magnitude, calls fn with them, and returns true.
func (d *Disturber) Advance(dt float32, rows, cols int, fn func(i, j int, m float32)) bool {
	d.elapsed += dt
	if d.elapsed < d.Interval {
		return false
	}
	d.elapsed = 0
	// Cells within four of an edge are skipped so the neighbors of any
	// pick stay clear of the rows Disturb rejects.
	if rows < 9 || cols < 9 {
		return false
	}
	i := 4 + d.rng.IntN(rows-8)
	j := 4 + d.rng.IntN(cols-8)
	m := d.Min + d.rng.Float32()*(d.Max-d.Min)
	fn(i, j, m)
	return true
}
