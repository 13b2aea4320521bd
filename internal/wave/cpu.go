package wave

import (
	"fmt"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// CPUSolver advances a Field on a pool of worker goroutines and keeps
// per-cell normals and tangents of the current heights for a renderer.
//
// A CPUSolver is not safe for concurrent use; Update blocks until every row
// of the tick is done.
type CPUSolver struct {
	params Params
	coeff  Coefficients
	field  *Field
	clock  Clock
	pool   *pool
	ticks  uint64

	normals  []mgl32.Vec3
	tangents []mgl32.Vec3
}

// NewCPUSolver validates p and starts workers goroutines; zero or less
// uses GOMAXPROCS.
func NewCPUSolver(p Params, workers int) (*CPUSolver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, p.Rows-2)

	n := p.Rows * p.Cols
	s := &CPUSolver{
		params:   p,
		coeff:    p.Coefficients(),
		field:    NewField(p.Rows, p.Cols),
		clock:    Clock{Step: p.TimeStep},
		pool:     newPool(workers, interiorRows(p.Rows, p.Cols)),
		normals:  make([]mgl32.Vec3, n),
		tangents: make([]mgl32.Vec3, n),
	}
	for i := range s.normals {
		s.normals[i] = mgl32.Vec3{0, 1, 0}
		s.tangents[i] = mgl32.Vec3{1, 0, 0}
	}
	gpu.Logger().Info("wave: cpu solver created",
		"grid", fmt.Sprintf("%dx%d", p.Rows, p.Cols), "workers", s.pool.size(),
		"k1", s.coeff.K1, "k2", s.coeff.K2, "k3", s.coeff.K3)
	return s, nil
}

// Params returns the construction parameters.
func (s *CPUSolver) Params() Params { return s.params }

// Coefficients returns the update weights.
func (s *CPUSolver) Coefficients() Coefficients { return s.coeff }

// Field returns the solver's field.
func (s *CPUSolver) Field() *Field { return s.field }

// Ticks returns the number of discrete steps taken.
func (s *CPUSolver) Ticks() uint64 { return s.ticks }

// Disturb adds m to cell (i, j) and m/2 to its four neighbors. It panics
// unless 1 < i < Rows-2 and 1 < j < Cols-2.
func (s *CPUSolver) Disturb(i, j int, m float32) {
	checkDisturb(s.params, i, j)
	half := 0.5 * m
	f := s.field
	f.add(i, j, m)
	f.add(i+1, j, half)
	f.add(i-1, j, half)
	f.add(i, j+1, half)
	f.add(i, j-1, half)
}

// Update accumulates dt and runs one tick when a full time step has
// elapsed. It reports whether a tick ran.
func (s *CPUSolver) Update(dt float32) bool {
	if !s.clock.Advance(dt) {
		return false
	}
	s.Step()
	return true
}

// Step runs one tick unconditionally: the update over every interior cell,
// the buffer rotation, then normals and tangents of the new heights.
func (s *CPUSolver) Step() {
	f, k := s.field, s.coeff
	s.pool.run(func(m *workerMask) { stepRows(f, k, m) })
	f.rotate()
	s.pool.run(s.shadeRows)
	s.ticks++
}

// shadeRows recomputes normals and tangents from central differences of
// the current heights.
func (s *CPUSolver) shadeRows(mask *workerMask) {
	f := s.field
	w := f.Cols
	twoDx := 2 * s.params.SpatialStep
	for _, row := range mask.rows {
		base := row.y * w
		for _, sp := range row.spans {
			for x := sp.start; x <= sp.end; x++ {
				idx := base + x
				l := f.curr[idx-1]
				r := f.curr[idx+1]
				t := f.curr[idx-w]
				b := f.curr[idx+w]
				s.normals[idx] = mgl32.Vec3{l - r, twoDx, b - t}.Normalize()
				s.tangents[idx] = mgl32.Vec3{twoDx, r - l, 0}.Normalize()
			}
		}
	}
}

// Height returns the current height of (i, j).
func (s *CPUSolver) Height(i, j int) float32 { return s.field.At(i, j) }

// Heights returns the current heights, row-major. The slice is owned by the
// solver and changes on the next tick.
func (s *CPUSolver) Heights() []float32 { return s.field.Current() }

// Normal returns the surface normal at (i, j).
func (s *CPUSolver) Normal(i, j int) mgl32.Vec3 { return s.normals[i*s.params.Cols+j] }

// Tangent returns the surface tangent along +x at (i, j).
func (s *CPUSolver) Tangent(i, j int) mgl32.Vec3 { return s.tangents[i*s.params.Cols+j] }

// Position returns the world position of (i, j): the grid is centred on the
// origin in the xz plane with row 0 at +z and the height on y.
func (s *CPUSolver) Position(i, j int) mgl32.Vec3 {
	dx := s.params.SpatialStep
	halfWidth := 0.5 * float32(s.params.Cols-1) * dx
	halfDepth := 0.5 * float32(s.params.Rows-1) * dx
	return mgl32.Vec3{-halfWidth + float32(j)*dx, s.field.At(i, j), halfDepth - float32(i)*dx}
}

// Close stops the worker goroutines.
func (s *CPUSolver) Close() {
	s.pool.close()
}
