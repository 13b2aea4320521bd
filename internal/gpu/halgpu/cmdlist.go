package halgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// commandList encodes directly into a hal command encoder. Recording
// errors are latched and reported by Submit, since CommandList methods
// cannot return them.
type commandList struct {
	label   string
	device  *Device
	encoder hal.CommandEncoder
	err     error

	buffers    []hal.Buffer
	bindGroups []hal.BindGroup
	readbacks  []readback
}

var _ gpu.CommandList = (*commandList)(nil)

// NewCommandList opens an encoder.
func (d *Device) NewCommandList(label string) (gpu.CommandList, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, gpu.ErrDeviceClosed
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("creating encoder %s: %w", label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("beginning %s: %w", label, err)
	}
	return &commandList{label: label, device: d, encoder: enc}, nil
}

func (l *commandList) Label() string { return l.label }

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// usage maps a tracked state onto the buffer usage the barrier transitions
// between.
func usage(s gpu.ResourceState) gputypes.BufferUsage {
	switch s {
	case gpu.StateCopySource:
		return gputypes.BufferUsageCopySrc
	case gpu.StateCopyDest:
		return gputypes.BufferUsageCopyDst
	default:
		return gputypes.BufferUsageStorage
	}
}

func (l *commandList) Barrier(b gpu.Barrier) {
	g, err := l.device.grid(b.Resource)
	if err != nil {
		l.fail(err)
		return
	}
	l.encoder.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: g.buf,
		Usage: hal.BufferUsageTransition{
			OldUsage: usage(b.Before),
			NewUsage: usage(b.After),
		},
	}})
}

// staging creates a transient buffer released when the list's signal
// completes.
func (l *commandList) staging(label string, size uint64, use gputypes.BufferUsage) (hal.Buffer, bool) {
	buf, err := l.device.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: use})
	if err != nil {
		l.fail(fmt.Errorf("creating %s: %w", label, err))
		return nil, false
	}
	l.buffers = append(l.buffers, buf)
	return buf, true
}

func (l *commandList) Upload(dst gpu.Handle, data []float32) {
	g, err := l.device.grid(dst)
	if err != nil {
		l.fail(err)
		return
	}
	size := uint64(len(data)) * 4
	if size != g.size {
		l.fail(fmt.Errorf("upload of %d values into %q of %d", len(data), g.desc.Label, g.desc.Len()))
		return
	}
	buf, ok := l.staging(g.desc.Label+"_upload", size, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if !ok {
		return
	}
	if err := l.device.queue.WriteBuffer(buf, 0, encodeFloats(data)); err != nil {
		l.fail(fmt.Errorf("writing %s: %w", g.desc.Label, err))
		return
	}
	l.encoder.CopyBufferToBuffer(buf, g.buf, []hal.BufferCopy{{Size: size}})
}

func (l *commandList) CopyGrid(dst, src gpu.Handle) {
	s, err := l.device.grid(src)
	if err != nil {
		l.fail(err)
		return
	}
	t, err := l.device.grid(dst)
	if err != nil {
		l.fail(err)
		return
	}
	if s.size != t.size {
		l.fail(fmt.Errorf("copy from %q to %q with different sizes", s.desc.Label, t.desc.Label))
		return
	}
	l.encoder.CopyBufferToBuffer(s.buf, t.buf, []hal.BufferCopy{{Size: s.size}})
}

func (l *commandList) Dispatch(p gpu.Program, b gpu.Binding, groups gpu.Groups) {
	hp, ok := p.(*program)
	if !ok {
		l.fail(errForeignProgram)
		return
	}
	if err := hp.spec.Check(b); err != nil {
		l.fail(err)
		return
	}
	if len(b.Outputs) == 0 {
		l.fail(fmt.Errorf("kernel %s has no outputs", hp.spec.Name))
		return
	}
	out, err := l.device.grid(b.Outputs[0])
	if err != nil {
		l.fail(err)
		return
	}

	params := make([]float32, uniformSize(len(b.Constants))/4)
	params[0] = float32(out.desc.Width)
	params[1] = float32(out.desc.Height)
	params[2] = float32(out.desc.Channels)
	copy(params[4:], b.Constants)
	uniform, ok := l.staging(hp.spec.Name+"_params", uint64(len(params))*4,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if !ok {
		return
	}
	if err := l.device.queue.WriteBuffer(uniform, 0, encodeFloats(params)); err != nil {
		l.fail(fmt.Errorf("writing %s params: %w", hp.spec.Name, err))
		return
	}

	entries := []gputypes.BindGroupEntry{{
		Binding:  0,
		Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle()},
	}}
	for _, h := range append(append([]gpu.Handle{}, b.Inputs...), b.Outputs...) {
		g, err := l.device.grid(h)
		if err != nil {
			l.fail(err)
			return
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(len(entries)),
			Resource: gputypes.BufferBinding{Buffer: g.buf.NativeHandle()},
		})
	}
	bg, err := l.device.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   hp.spec.Name + "_bind",
		Layout:  hp.bindings,
		Entries: entries,
	})
	if err != nil {
		l.fail(fmt.Errorf("creating bind group for %s: %w", hp.spec.Name, err))
		return
	}
	l.bindGroups = append(l.bindGroups, bg)

	pass := l.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: hp.spec.Name})
	pass.SetPipeline(hp.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(groups.X, groups.Y, groups.Z)
	pass.End()
}

func (l *commandList) Readback(src gpu.Handle, dst []float32) {
	g, err := l.device.grid(src)
	if err != nil {
		l.fail(err)
		return
	}
	if len(dst) != g.desc.Len() {
		l.fail(fmt.Errorf("readback of %q into %d values, want %d", g.desc.Label, len(dst), g.desc.Len()))
		return
	}
	buf, ok := l.staging(g.desc.Label+"_readback", g.size, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if !ok {
		return
	}
	l.encoder.CopyBufferToBuffer(g.buf, buf, []hal.BufferCopy{{Size: g.size}})
	l.readbacks = append(l.readbacks, readback{staging: buf, dst: dst})
}

// release frees transient resources of a list that never reached the queue.
func (l *commandList) release(d *Device) {
	for _, b := range l.bindGroups {
		d.device.DestroyBindGroup(b)
	}
	for _, b := range l.buffers {
		d.device.DestroyBuffer(b)
	}
	l.bindGroups, l.buffers, l.readbacks = nil, nil, nil
}

func encodeFloats(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeFloats(dst []float32, raw []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
}
