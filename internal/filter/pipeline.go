package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// CompositeMode selects how the filtered image reaches the target.
type CompositeMode int

const (
	// Replace writes the filtered image.
	Replace CompositeMode = iota
	// Modulate multiplies the source by the filtered image.
	Modulate
)

// String returns the mode name.
func (m CompositeMode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Modulate:
		return "modulate"
	default:
		return fmt.Sprintf("CompositeMode(%d)", int(m))
	}
}

// Filter is one stencil filter variant. Iterate records a single
// iteration as one or more PingPong.Apply calls.
type Filter interface {
	Name() string
	Iterate(cl gpu.CommandList, pp *PingPong)
	Mode() CompositeMode
	Close()
}

// PingPong owns two scratch grids the size of the filtered image. One of
// them is always the readable input of the next pass and the other its
// writable output; Apply swaps the roles.
//
// Handles returned by Result and Roles are non-owning and valid until the
// next Resize or Close.
type PingPong struct {
	dev       gpu.Device
	tracker   *gpu.Tracker
	composite *gpu.Stencil

	width, height int
	scratch       [2]gpu.Handle
	readable      int
	passes        int
}

// NewPingPong allocates scratch grids of width x height RGBA pixels.
func NewPingPong(dev gpu.Device, tracker *gpu.Tracker, width, height int) (*PingPong, error) {
	composite, err := gpu.NewStencil(dev, tracker, CompositeKernel)
	if err != nil {
		return nil, err
	}
	p := &PingPong{dev: dev, tracker: tracker, composite: composite}
	if err := p.Resize(width, height); err != nil {
		composite.Close()
		return nil, err
	}
	return p, nil
}

// Size returns the scratch dimensions.
func (p *PingPong) Size() (width, height int) { return p.width, p.height }

// Resize replaces the scratch grids. Work using the old grids must have
// completed.
func (p *PingPong) Resize(width, height int) error {
	if width == p.width && height == p.height && p.scratch[0].Valid() {
		return nil
	}
	p.release()
	for i, name := range []string{"pingpong_a", "pingpong_b"} {
		h, err := p.dev.CreateGrid(gpu.GridDesc{Label: name, Width: width, Height: height, Channels: 4})
		if err != nil {
			p.release()
			return fmt.Errorf("creating %s: %w", name, err)
		}
		p.scratch[i] = h
		p.tracker.Register(h, gpu.StateCommon)
	}
	p.width, p.height = width, height
	p.readable = 0
	gpu.Logger().Debug("filter: ping-pong resized", "width", width, "height", height)
	return nil
}

func (p *PingPong) release() {
	for i, h := range p.scratch {
		if h.Valid() {
			p.tracker.Forget(h)
			p.dev.DestroyGrid(h)
			p.scratch[i] = gpu.Handle{}
		}
	}
}

// Roles returns the scratch grid the next pass reads and the one it writes.
func (p *PingPong) Roles() (readable, writable gpu.Handle) {
	return p.scratch[p.readable], p.scratch[1-p.readable]
}

// Result returns the grid holding the latest filtered image.
func (p *PingPong) Result() gpu.Handle { return p.scratch[p.readable] }

// Passes returns the number of passes applied since the last Load.
func (p *PingPong) Passes() int { return p.passes }

// Load copies source into the first scratch grid, makes it readable and
// makes the other grid writable.
func (p *PingPong) Load(cl gpu.CommandList, source gpu.Handle) {
	desc, ok := p.dev.GridDesc(source)
	if !ok || desc.Width != p.width || desc.Height != p.height || desc.Channels != 4 {
		panic(fmt.Sprintf("filter: source %s does not match %dx%d RGBA scratch", source, p.width, p.height))
	}
	p.readable = 0
	p.passes = 0
	a := p.scratch[0]
	p.tracker.Require(cl, source, gpu.StateCopySource)
	p.tracker.Require(cl, a, gpu.StateCopyDest)
	cl.CopyGrid(a, source)
	p.tracker.Require(cl, a, gpu.StateShaderRead)
	p.tracker.Require(cl, p.scratch[1], gpu.StateUnorderedAccess)
}

// Apply runs k reading the readable grid and writing the writable one,
// then swaps the roles: the written grid becomes readable and the grid it
// read becomes writable.
func (p *PingPong) Apply(cl gpu.CommandList, k *gpu.Stencil, constants []float32) {
	src, dst := p.Roles()
	k.Dispatch(cl, []gpu.Handle{src}, []gpu.Handle{dst}, constants, k.GroupsFor(p.width, p.height))
	p.tracker.Require(cl, dst, gpu.StateShaderRead)
	p.tracker.Require(cl, src, gpu.StateUnorderedAccess)
	p.readable = 1 - p.readable
	p.passes++
}

// Execute loads source and runs passCount iterations of f.
func (p *PingPong) Execute(cl gpu.CommandList, source gpu.Handle, f Filter, passCount int) {
	p.Load(cl, source)
	for range passCount {
		f.Iterate(cl, p)
	}
	if l := gpu.Logger(); l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("filter: executed", "filter", f.Name(), "iterations", passCount, "passes", p.passes)
	}
}

// Composite combines source and the filtered result into target.
func (p *PingPong) Composite(cl gpu.CommandList, source, target gpu.Handle, mode CompositeMode) {
	p.composite.Dispatch(cl, []gpu.Handle{source, p.Result()}, []gpu.Handle{target},
		[]float32{float32(mode)}, p.composite.GroupsFor(p.width, p.height))
}

// Run executes f, composites into target with f's mode, and returns the
// scratch grids to gpu.StateCommon.
func (p *PingPong) Run(cl gpu.CommandList, source, target gpu.Handle, f Filter, passCount int) {
	p.Execute(cl, source, f, passCount)
	p.Composite(cl, source, target, f.Mode())
	p.Finish(cl)
}

// Finish returns both scratch grids to gpu.StateCommon.
func (p *PingPong) Finish(cl gpu.CommandList) {
	for _, h := range p.scratch {
		p.tracker.Require(cl, h, gpu.StateCommon)
	}
}

// Close releases the scratch grids and the composite kernel.
func (p *PingPong) Close() {
	p.release()
	if p.composite != nil {
		p.composite.Close()
		p.composite = nil
	}
}
