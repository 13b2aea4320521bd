package gpu

import (
	"fmt"
	"math"
)

// Tile is the thread-group size a kernel is compiled with.
type Tile struct {
	X, Y int
}

// Layout is the fixed binding layout of a kernel: how many read-only grids,
// how many writable grids, and how many float32 constants it takes.
type Layout struct {
	Inputs    int
	Outputs   int
	Constants int
}

// GridView is a CPU view of a grid, used by thread functions on the
// software device.
type GridView struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// InBounds reports whether (x, y) is a cell of v.
func (v GridView) InBounds(x, y int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height
}

// At returns channel c of cell (x, y).
func (v GridView) At(x, y, c int) float32 {
	return v.Data[(y*v.Width+x)*v.Channels+c]
}

// Set writes channel c of cell (x, y).
func (v GridView) Set(x, y, c int, value float32) {
	v.Data[(y*v.Width+x)*v.Channels+c] = value
}

// Clamped returns channel c of the cell nearest to (x, y).
func (v GridView) Clamped(x, y, c int) float32 {
	x = min(max(x, 0), v.Width-1)
	y = min(max(y, 0), v.Height-1)
	return v.At(x, y, c)
}

// Invocation is one thread of a dispatch on the software device.
type Invocation struct {
	X, Y      int
	In        []GridView
	Out       []GridView
	Constants []float32
}

// Int returns constant i as an integer.
func (inv *Invocation) Int(i int) int {
	return int(math.Round(float64(inv.Constants[i])))
}

// ThreadFunc is the CPU body of a kernel, run once per thread. Like a shader
// it must bounds-check its own coordinates.
type ThreadFunc func(inv *Invocation)

// KernelSpec describes a stencil kernel for every backend: WGSL for the
// hardware device and Thread for the software device. Both bodies must
// implement the same rule.
//
// WGSL binding convention: binding 0 is a uniform array<vec4<f32>> whose
// first vec4 holds (width, height, channels, 0) of the first output and
// whose remaining components hold Constants in order; bindings 1..Inputs
// are read-only storage buffers, the next Outputs bindings are read_write
// storage buffers.
type KernelSpec struct {
	Name   string
	Tile   Tile
	Layout Layout
	WGSL   string
	Thread ThreadFunc
}

// Check validates a binding against the layout. A mismatch is a programming
// error in the caller.
func (k *KernelSpec) Check(b Binding) error {
	if len(b.Inputs) != k.Layout.Inputs || len(b.Outputs) != k.Layout.Outputs || len(b.Constants) != k.Layout.Constants {
		return fmt.Errorf("gpu: kernel %s takes %d inputs, %d outputs, %d constants; got %d, %d, %d",
			k.Name, k.Layout.Inputs, k.Layout.Outputs, k.Layout.Constants,
			len(b.Inputs), len(b.Outputs), len(b.Constants))
	}
	return nil
}

// Stencil is a compiled kernel bound to a tracker. Dispatch routes every
// resource through the tracker before recording, so callers never emit
// barriers by hand.
type Stencil struct {
	spec    *KernelSpec
	program Program
	device  Device
	tracker *Tracker
}

// NewStencil compiles spec on dev.
func NewStencil(dev Device, tracker *Tracker, spec *KernelSpec) (*Stencil, error) {
	p, err := dev.CreateProgram(spec)
	if err != nil {
		return nil, fmt.Errorf("creating kernel %s: %w", spec.Name, err)
	}
	Logger().Debug("gpu: stencil created", "kernel", spec.Name, "device", dev.Name(),
		"tile", fmt.Sprintf("%dx%d", spec.Tile.X, spec.Tile.Y))
	return &Stencil{spec: spec, program: p, device: dev, tracker: tracker}, nil
}

// Name returns the kernel name.
func (s *Stencil) Name() string { return s.spec.Name }

// Tile returns the compiled thread-group size.
func (s *Stencil) Tile() Tile { return s.spec.Tile }

// GroupsFor returns the dispatch size covering width x height.
func (s *Stencil) GroupsFor(width, height int) Groups {
	return GroupsFor(width, height, s.spec.Tile)
}

// Dispatch transitions inputs to StateShaderRead and outputs to
// StateUnorderedAccess, then records the dispatch. It panics when the
// binding does not match the kernel layout.
func (s *Stencil) Dispatch(cl CommandList, inputs, outputs []Handle, constants []float32, groups Groups) {
	b := Binding{Inputs: inputs, Outputs: outputs, Constants: constants}
	if err := s.spec.Check(b); err != nil {
		panic(err)
	}
	for _, h := range inputs {
		s.tracker.Require(cl, h, StateShaderRead)
	}
	for _, h := range outputs {
		s.tracker.Require(cl, h, StateUnorderedAccess)
	}
	cl.Dispatch(s.program, b, groups)
}

// Close releases the compiled program.
func (s *Stencil) Close() {
	if s.program != nil {
		s.device.DestroyProgram(s.program)
		s.program = nil
	}
}
