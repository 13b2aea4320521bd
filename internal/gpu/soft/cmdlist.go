package soft

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

type cmdKind uint8

const (
	cmdBarrier cmdKind = iota
	cmdUpload
	cmdCopy
	cmdDispatch
	cmdReadback
)

type command struct {
	kind    cmdKind
	barrier gpu.Barrier
	dst     gpu.Handle
	src     gpu.Handle
	data    []float32
	program *program
	binding gpu.Binding
	groups  gpu.Groups
}

type commandList struct {
	label     string
	cmds      []command
	submitted bool
}

func (l *commandList) Label() string { return l.label }

func (l *commandList) Barrier(b gpu.Barrier) {
	l.cmds = append(l.cmds, command{kind: cmdBarrier, barrier: b})
}

func (l *commandList) Upload(dst gpu.Handle, data []float32) {
	l.cmds = append(l.cmds, command{kind: cmdUpload, dst: dst, data: append([]float32(nil), data...)})
}

func (l *commandList) CopyGrid(dst, src gpu.Handle) {
	l.cmds = append(l.cmds, command{kind: cmdCopy, dst: dst, src: src})
}

func (l *commandList) Dispatch(p gpu.Program, b gpu.Binding, groups gpu.Groups) {
	b = gpu.Binding{
		Inputs:    append([]gpu.Handle(nil), b.Inputs...),
		Outputs:   append([]gpu.Handle(nil), b.Outputs...),
		Constants: append([]float32(nil), b.Constants...),
	}
	l.cmds = append(l.cmds, command{kind: cmdDispatch, program: p.(*program), binding: b, groups: groups})
}

func (l *commandList) Readback(src gpu.Handle, dst []float32) {
	l.cmds = append(l.cmds, command{kind: cmdReadback, src: src, data: dst})
}

// Len returns the number of recorded commands.
func (l *commandList) Len() int { return len(l.cmds) }

func (d *Device) execute(l *commandList) {
	for i := range l.cmds {
		c := &l.cmds[i]
		switch c.kind {
		case cmdBarrier:
			d.applyBarrier(l.label, c.barrier)
		case cmdUpload:
			if g := d.lookup(l.label, c.dst, gpu.StateCopyDest); g != nil {
				d.copyInto(l.label, g, c.data)
			}
		case cmdCopy:
			src := d.lookup(l.label, c.src, gpu.StateCopySource)
			dst := d.lookup(l.label, c.dst, gpu.StateCopyDest)
			if src != nil && dst != nil {
				d.copyInto(l.label, dst, src.data)
			}
		case cmdReadback:
			if g := d.lookup(l.label, c.src, gpu.StateCopySource); g != nil {
				if len(c.data) != len(g.data) {
					d.mu.Lock()
					d.issue("%s: readback of %s into %d values, grid has %d", l.label, c.src, len(c.data), len(g.data))
					d.mu.Unlock()
				}
				copy(c.data, g.data)
			}
		case cmdDispatch:
			if err := d.dispatch(l.label, c); err != nil {
				d.mu.Lock()
				d.issue("%s: %v", l.label, err)
				d.mu.Unlock()
			}
		}
	}
}

func (d *Device) applyBarrier(label string, b gpu.Barrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grids.Get(b.Resource)
	if !ok {
		d.issue("%s: barrier on destroyed grid %s", label, b.Resource)
		return
	}
	if d.opts.Validate && g.state != b.Before {
		d.issue("%s: barrier %s but grid is %s", label, b, g.state)
	}
	g.state = b.After
}

// lookup resolves h and checks that it is in want.
func (d *Device) lookup(label string, h gpu.Handle, want gpu.ResourceState) *grid {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grids.Get(h)
	if !ok {
		d.issue("%s: use of destroyed grid %s", label, h)
		return nil
	}
	if d.opts.Validate && g.state != want {
		d.issue("%s: grid %s (%s) used as %s", label, h, g.state, want)
	}
	return g
}

func (d *Device) copyInto(label string, dst *grid, src []float32) {
	if len(src) != len(dst.data) {
		d.mu.Lock()
		d.issue("%s: copy of %d values into %q with %d", label, len(src), dst.desc.Label, len(dst.data))
		d.mu.Unlock()
	}
	copy(dst.data, src)
}

// dispatch runs every thread of c. A thread function that panics fails its
// row of groups; the rows already running finish.
func (d *Device) dispatch(label string, c *command) error {
	spec := c.program.spec
	in := make([]gpu.GridView, len(c.binding.Inputs))
	out := make([]gpu.GridView, len(c.binding.Outputs))
	for i, h := range c.binding.Inputs {
		g := d.lookup(label, h, gpu.StateShaderRead)
		if g == nil {
			return nil
		}
		in[i] = view(g)
	}
	for i, h := range c.binding.Outputs {
		g := d.lookup(label, h, gpu.StateUnorderedAccess)
		if g == nil {
			return nil
		}
		out[i] = view(g)
	}

	// Kernels here are two-dimensional; Z only gates whether anything runs.
	if c.groups.Z == 0 {
		return nil
	}
	gpu.Logger().Debug("soft: dispatch", "list", label, "kernel", spec.Name, "groups", c.groups.Total())
	tile := spec.Tile
	var eg errgroup.Group
	eg.SetLimit(d.opts.Workers)
	for gy := uint32(0); gy < c.groups.Y; gy++ {
		y0 := int(gy) * tile.Y
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel %s panicked in group row %d: %v", spec.Name, gy, r)
				}
			}()
			inv := gpu.Invocation{In: in, Out: out, Constants: c.binding.Constants}
			for gx := uint32(0); gx < c.groups.X; gx++ {
				x0 := int(gx) * tile.X
				for ly := 0; ly < tile.Y; ly++ {
					for lx := 0; lx < tile.X; lx++ {
						inv.X, inv.Y = x0+lx, y0+ly
						spec.Thread(&inv)
					}
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func view(g *grid) gpu.GridView {
	return gpu.GridView{Width: g.desc.Width, Height: g.desc.Height, Channels: g.desc.Channels, Data: g.data}
}
