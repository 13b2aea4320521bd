package wave

import (
	"fmt"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// GPUSolver keeps the three height buffers on a device and records ticks
// and disturbances into caller-owned command lists. The buffers rotate
// roles each tick; the tracker follows each buffer, not each role.
//
// All methods must be called from the goroutine that records cl.
type GPUSolver struct {
	params  Params
	coeff   Coefficients
	clock   Clock
	dev     gpu.Device
	tracker *gpu.Tracker
	step    *gpu.Stencil
	disturb *gpu.Stencil
	groups  gpu.Groups
	ticks   uint64

	// prev, curr and next index grids.
	grids            [3]gpu.Handle
	prev, curr, next int
}

// NewGPUSolver creates the three buffers and records their zero
// initialization into cl. The caller submits cl before the first tick
// executes.
func NewGPUSolver(dev gpu.Device, tracker *gpu.Tracker, p Params, cl gpu.CommandList) (*GPUSolver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &GPUSolver{
		params:  p,
		coeff:   p.Coefficients(),
		clock:   Clock{Step: p.TimeStep},
		dev:     dev,
		tracker: tracker,
		prev:    0,
		curr:    1,
		next:    2,
	}
	var err error
	if s.step, err = gpu.NewStencil(dev, tracker, StepKernel); err != nil {
		return nil, err
	}
	if s.disturb, err = gpu.NewStencil(dev, tracker, DisturbKernel); err != nil {
		s.Close()
		return nil, err
	}
	s.groups = s.step.GroupsFor(p.Cols, p.Rows)

	zeros := make([]float32, p.Rows*p.Cols)
	for i, name := range []string{"wave_a", "wave_b", "wave_c"} {
		h, err := dev.CreateGrid(gpu.GridDesc{Label: name, Width: p.Cols, Height: p.Rows, Channels: 1})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		s.grids[i] = h
		tracker.Register(h, gpu.StateCommon)
		tracker.Require(cl, h, gpu.StateCopyDest)
		cl.Upload(h, zeros)
	}
	gpu.Logger().Info("wave: gpu solver created", "device", dev.Name(),
		"grid", fmt.Sprintf("%dx%d", p.Rows, p.Cols),
		"groups", fmt.Sprintf("%dx%d", s.groups.X, s.groups.Y))
	return s, nil
}

// Params returns the construction parameters.
func (s *GPUSolver) Params() Params { return s.params }

// Coefficients returns the update weights.
func (s *GPUSolver) Coefficients() Coefficients { return s.coeff }

// Ticks returns the number of recorded steps.
func (s *GPUSolver) Ticks() uint64 { return s.ticks }

// Disturb records a disturbance of the current buffer at (i, j). It panics
// unless 1 < i < Rows-2 and 1 < j < Cols-2.
func (s *GPUSolver) Disturb(cl gpu.CommandList, i, j int, m float32) {
	checkDisturb(s.params, i, j)
	s.disturb.Dispatch(cl, nil, []gpu.Handle{s.grids[s.curr]},
		[]float32{float32(i), float32(j), m}, gpu.Groups{X: 1, Y: 1, Z: 1})
}

// Update accumulates dt and records one tick into cl when a full time step
// has elapsed. It reports whether a tick was recorded.
func (s *GPUSolver) Update(cl gpu.CommandList, dt float32) bool {
	if !s.clock.Advance(dt) {
		return false
	}
	s.Step(cl)
	return true
}

// Step records one tick unconditionally and rotates the buffer roles.
func (s *GPUSolver) Step(cl gpu.CommandList) {
	k := s.coeff
	s.step.Dispatch(cl,
		[]gpu.Handle{s.grids[s.prev], s.grids[s.curr]},
		[]gpu.Handle{s.grids[s.next]},
		[]float32{k.K1, k.K2, k.K3}, s.groups)
	s.prev, s.curr, s.next = s.curr, s.next, s.prev
	s.ticks++
}

// Displacement returns the grid holding the current heights. The handle is
// a non-owning reference: it names a different grid after the next tick
// and is invalid once the solver is closed.
func (s *GPUSolver) Displacement() gpu.Handle { return s.grids[s.curr] }

// PrepareForSampling transitions the current heights for shader reads by
// a later pass on the same list.
func (s *GPUSolver) PrepareForSampling(cl gpu.CommandList) {
	s.tracker.Require(cl, s.grids[s.curr], gpu.StateShaderRead)
}

// ReadHeights records a copy of the current heights into dst, which is
// filled once the next signal on the device completes. len(dst) must be
// Rows*Cols.
func (s *GPUSolver) ReadHeights(cl gpu.CommandList, dst []float32) {
	s.tracker.Require(cl, s.grids[s.curr], gpu.StateCopySource)
	cl.Readback(s.grids[s.curr], dst)
}

// Close releases the kernels and buffers. Work using them must have
// completed.
func (s *GPUSolver) Close() {
	for i, h := range s.grids {
		if h.Valid() {
			s.tracker.Forget(h)
			s.dev.DestroyGrid(h)
			s.grids[i] = gpu.Handle{}
		}
	}
	if s.step != nil {
		s.step.Close()
	}
	if s.disturb != nil {
		s.disturb.Close()
	}
}
