// Package halgpu implements gpu.Device on github.com/gogpu/wgpu/hal.
//
// Every grid is a storage buffer of float32 values. Kernels are WGSL,
// compiled to SPIR-V with naga. Barriers become buffer usage transitions.
// Command lists are encoded as they are recorded; Submit queues the encoded
// command buffer and Signal hands every queued buffer to the hardware queue
// as one submission. A fence value completes once the queue reports its
// submission index done. Per-dispatch uniforms, bind groups, staging
// buffers and readbacks are retired at that point.
package halgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// pollInterval is how often WaitFor asks the queue for progress.
const pollInterval = time.Millisecond

type grid struct {
	desc gpu.GridDesc
	buf  hal.Buffer
	size uint64
}

// retired holds everything a batch of submissions keeps alive until the
// queue completes submission index.
type retired struct {
	value      uint64
	index      uint64
	cmdBufs    []hal.CommandBuffer
	buffers    []hal.Buffer
	bindGroups []hal.BindGroup
	readbacks  []readback
}

type readback struct {
	staging hal.Buffer
	dst     []float32
}

// Device is a gpu.Device on a hal device and queue.
type Device struct {
	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	mu        sync.Mutex
	grids     gpu.Arena[*grid]
	batch     retired
	pending   []retired
	signalled uint64
	lastIndex uint64
	closed    bool

	completed atomic.Uint64
}

var _ gpu.Device = (*Device)(nil)

// Open creates a standalone Vulkan device, preferring a discrete or
// integrated GPU.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.New("halgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("halgpu: no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("opening device: %w", err)
	}
	d, err := Wrap(openDev.Device, openDev.Queue, selected.Info.Name)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	return d, nil
}

// Wrap builds a Device on an existing hal device and queue. The caller keeps
// ownership of both; Close only releases what Wrap and later calls created.
func Wrap(device hal.Device, queue hal.Queue, name string) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("halgpu: wrap needs a device and a queue")
	}
	gpu.Logger().Info("halgpu: device opened", "adapter", name)
	return &Device{name: name, device: device, queue: queue}, nil
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// CreateGrid allocates a storage buffer for desc. Buffers start zeroed.
func (d *Device) CreateGrid(desc gpu.GridDesc) (gpu.Handle, error) {
	if err := desc.Validate(); err != nil {
		return gpu.Handle{}, err
	}
	size := uint64(desc.Len()) * 4
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpu.Handle{}, fmt.Errorf("creating grid %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grids.Insert(&grid{desc: desc, buf: buf, size: size}), nil
}

// DestroyGrid releases a grid's buffer. The caller must not destroy a grid
// that submitted work still uses.
func (d *Device) DestroyGrid(h gpu.Handle) {
	d.mu.Lock()
	g, ok := d.grids.Remove(h)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBuffer(g.buf)
	}
}

// GridDesc returns the descriptor of a live grid.
func (d *Device) GridDesc(h gpu.Handle) (gpu.GridDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grids.Get(h)
	if !ok {
		return gpu.GridDesc{}, false
	}
	return g.desc, true
}

func (d *Device) grid(h gpu.Handle) (*grid, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grids.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: grid %s", gpu.ErrUnknownResource, h)
	}
	return g, nil
}

// Submit queues an encoded list. The hardware queue receives it with the
// next Signal.
func (d *Device) Submit(cl gpu.CommandList) error {
	l, ok := cl.(*commandList)
	if !ok {
		return fmt.Errorf("halgpu: foreign command list %T", cl)
	}
	if l.err != nil {
		l.encoder.DiscardEncoding()
		l.release(d)
		return fmt.Errorf("recording %s: %w", l.label, l.err)
	}
	cmdBuf, err := l.encoder.EndEncoding()
	if err != nil {
		l.release(d)
		return fmt.Errorf("ending %s: %w", l.label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.device.FreeCommandBuffer(cmdBuf)
		l.release(d)
		return gpu.ErrDeviceClosed
	}
	d.batch.cmdBufs = append(d.batch.cmdBufs, cmdBuf)
	d.batch.buffers = append(d.batch.buffers, l.buffers...)
	d.batch.bindGroups = append(d.batch.bindGroups, l.bindGroups...)
	d.batch.readbacks = append(d.batch.readbacks, l.readbacks...)
	return nil
}

// Signal submits the queued command buffers and returns the fence value
// that completes with them. A signal with nothing queued completes with the
// previous submission.
func (d *Device) Signal() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpu.ErrDeviceClosed
	}
	v := d.signalled + 1
	if len(d.batch.cmdBufs) > 0 {
		idx, err := d.queue.Submit(d.batch.cmdBufs)
		if err != nil {
			d.releaseLocked(d.batch)
			d.batch = retired{}
			return 0, fmt.Errorf("submitting batch for fence %d: %w", v, err)
		}
		d.lastIndex = idx
	}
	d.signalled = v
	d.batch.value = v
	d.batch.index = d.lastIndex
	d.pending = append(d.pending, d.batch)
	d.batch = retired{}
	return v, nil
}

// CompletedValue polls the queue without blocking.
func (d *Device) CompletedValue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.pollLocked(d.queue.PollCompleted())
	}
	return d.completed.Load()
}

// pollLocked retires every pending batch whose submission index is at or
// below done and advances the completed value past them.
func (d *Device) pollLocked(done uint64) {
	for len(d.pending) > 0 && d.pending[0].index <= done {
		r := d.pending[0]
		d.pending = d.pending[1:]
		d.readLocked(r.readbacks)
		d.releaseLocked(r)
		d.completed.Store(r.value)
	}
}

// readLocked copies finished staging buffers into their destinations.
func (d *Device) readLocked(rbs []readback) {
	for _, rb := range rbs {
		size := uint64(len(rb.dst)) * 4
		m, err := d.device.MapBuffer(rb.staging, 0, size)
		if err != nil {
			gpu.Logger().Warn("halgpu: readback failed", "error", err)
			continue
		}
		decodeFloats(rb.dst, unsafe.Slice((*byte)(m.Ptr), size))
		if err := d.device.UnmapBuffer(rb.staging); err != nil {
			gpu.Logger().Warn("halgpu: unmap failed", "error", err)
		}
	}
}

func (d *Device) releaseLocked(r retired) {
	for _, b := range r.bindGroups {
		d.device.DestroyBindGroup(b)
	}
	for _, b := range r.buffers {
		d.device.DestroyBuffer(b)
	}
	for _, c := range r.cmdBufs {
		d.device.FreeCommandBuffer(c)
	}
}

// WaitFor blocks until value completes or ctx is done.
func (d *Device) WaitFor(ctx context.Context, value uint64) error {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if d.CompletedValue() >= value {
			return nil
		}
		d.mu.Lock()
		closed, signalled := d.closed, d.signalled
		d.mu.Unlock()
		if closed {
			return gpu.ErrDeviceClosed
		}
		if value > signalled {
			return fmt.Errorf("halgpu: waiting for %d, only %d signalled", value, signalled)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Close waits for the device to go idle, then releases every grid, and the
// device and instance when Open created them.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if werr := d.device.WaitIdle(); werr != nil {
		err = fmt.Errorf("draining queue: %w", werr)
		d.pollLocked(d.queue.PollCompleted())
	} else {
		d.pollLocked(d.lastIndex)
	}
	d.releaseLocked(d.batch)
	d.batch = retired{}
	d.grids.Each(func(_ gpu.Handle, g *grid) { d.device.DestroyBuffer(g.buf) })
	d.grids = gpu.Arena[*grid]{}
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
	}
	gpu.Logger().Info("halgpu: device closed", "adapter", d.name)
	return err
}
