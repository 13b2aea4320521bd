// Package soft implements gpu.Device on the CPU.
//
// The device keeps the asynchronous shape of real hardware: Submit and
// Signal only enqueue, a queue goroutine executes command lists in
// submission order, and the completion counter advances when that goroutine
// reaches a signal. Dispatches run every thread group in parallel and call
// the kernel's ThreadFunc once per thread.
//
// With Options.Validate set, the device also tracks the true state of every
// grid and records each operation that finds a grid in the wrong state, the
// way a hardware debug layer would.
package soft

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// queueDepth bounds how many submissions may be pending before Submit blocks.
const queueDepth = 64

// Options configures a software device.
type Options struct {
	// Name is reported by Device.Name. Defaults to "soft".
	Name string

	// Workers bounds the goroutines used per dispatch. Zero uses GOMAXPROCS.
	Workers int

	// Validate records state mismatches instead of ignoring them.
	Validate bool
}

type grid struct {
	desc  gpu.GridDesc
	data  []float32
	state gpu.ResourceState
}

type program struct {
	spec *gpu.KernelSpec
}

func (p *program) Spec() *gpu.KernelSpec { return p.spec }

type op struct {
	list   *commandList
	signal uint64
}

// Device is a gpu.Device backed by CPU memory.
type Device struct {
	opts Options

	mu     sync.Mutex
	grids  gpu.Arena[*grid]
	issues []error

	queueMu   sync.Mutex
	closed    bool
	signalled uint64
	ops       chan op
	done      chan struct{}

	// gate is read-held while an op executes; Hold write-locks it.
	gate sync.RWMutex

	completed atomic.Uint64
	notifyMu  sync.Mutex
	notify    chan struct{}
}

var _ gpu.Device = (*Device)(nil)

// New starts a software device.
func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "soft"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	d := &Device{
		opts:   opts,
		ops:    make(chan op, queueDepth),
		done:   make(chan struct{}),
		notify: make(chan struct{}),
	}
	go d.run()
	gpu.Logger().Info("soft: device started", "workers", opts.Workers, "validate", opts.Validate)
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.opts.Name }

// CreateGrid allocates a zeroed grid in gpu.StateCommon.
func (d *Device) CreateGrid(desc gpu.GridDesc) (gpu.Handle, error) {
	if err := desc.Validate(); err != nil {
		return gpu.Handle{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grids.Insert(&grid{desc: desc, data: make([]float32, desc.Len())}), nil
}

// DestroyGrid releases a grid. Work already submitted that references it
// records a validation issue and skips the operation.
func (d *Device) DestroyGrid(h gpu.Handle) {
	d.mu.Lock()
	d.grids.Remove(h)
	d.mu.Unlock()
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

// GridState returns the state the device last saw for h. Only meaningful
// once the work that transitions h has executed.
func (d *Device) GridState(h gpu.Handle) (gpu.ResourceState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grids.Get(h)
	if !ok {
		return 0, false
	}
	return g.state, true
}

// CreateProgram wraps spec. The software device needs spec.Thread.
func (d *Device) CreateProgram(spec *gpu.KernelSpec) (gpu.Program, error) {
	if spec == nil || spec.Thread == nil {
		return nil, errors.New("soft: kernel has no thread function")
	}
	if spec.Tile.X <= 0 || spec.Tile.Y <= 0 {
		return nil, fmt.Errorf("soft: kernel %s has invalid tile %dx%d", spec.Name, spec.Tile.X, spec.Tile.Y)
	}
	return &program{spec: spec}, nil
}

// DestroyProgram is a no-op; programs hold no device memory.
func (d *Device) DestroyProgram(gpu.Program) {}

// NewCommandList returns an empty list.
func (d *Device) NewCommandList(label string) (gpu.CommandList, error) {
	d.queueMu.Lock()
	closed := d.closed
	d.queueMu.Unlock()
	if closed {
		return nil, gpu.ErrDeviceClosed
	}
	return &commandList{label: label}, nil
}

// Submit enqueues cl. A list may be submitted once.
func (d *Device) Submit(cl gpu.CommandList) error {
	l, ok := cl.(*commandList)
	if !ok {
		return fmt.Errorf("soft: foreign command list %T", cl)
	}
	if l.submitted {
		return fmt.Errorf("soft: command list %s already submitted", l.label)
	}
	l.submitted = true
	return d.enqueue(op{list: l})
}

// Signal enqueues the next completion value.
func (d *Device) Signal() (uint64, error) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if d.closed {
		return 0, gpu.ErrDeviceClosed
	}
	d.signalled++
	v := d.signalled
	d.ops <- op{signal: v}
	return v, nil
}

func (d *Device) enqueue(o op) error {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if d.closed {
		return gpu.ErrDeviceClosed
	}
	d.ops <- o
	return nil
}

// CompletedValue returns the highest completed signal.
func (d *Device) CompletedValue() uint64 { return d.completed.Load() }

// WaitFor blocks until value has completed or ctx is done.
func (d *Device) WaitFor(ctx context.Context, value uint64) error {
	for {
		d.notifyMu.Lock()
		ch := d.notify
		d.notifyMu.Unlock()
		if d.completed.Load() >= value {
			return nil
		}
		select {
		case <-ch:
		case <-d.done:
			if d.completed.Load() >= value {
				return nil
			}
			return gpu.ErrDeviceClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Hold stops the queue before its next operation until the returned release
// function is called. It simulates a GPU that is busy with earlier frames.
func (d *Device) Hold() (release func()) {
	d.gate.Lock()
	var once sync.Once
	return func() { once.Do(d.gate.Unlock) }
}

// Issues returns the validation issues recorded so far.
func (d *Device) Issues() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.issues...)
}

// Close drains the queue and stops the device.
func (d *Device) Close() error {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.ops)
	d.queueMu.Unlock()
	<-d.done
	gpu.Logger().Info("soft: device closed", "completed", d.completed.Load())
	return nil
}

func (d *Device) run() {
	defer close(d.done)
	for o := range d.ops {
		d.gate.RLock()
		if o.list != nil {
			d.execute(o.list)
		} else {
			d.complete(o.signal)
		}
		d.gate.RUnlock()
	}
}

func (d *Device) complete(v uint64) {
	d.completed.Store(v)
	d.notifyMu.Lock()
	close(d.notify)
	d.notify = make(chan struct{})
	d.notifyMu.Unlock()
}

func (d *Device) issue(format string, args ...any) {
	err := fmt.Errorf("soft: "+format, args...)
	d.issues = append(d.issues, err)
	gpu.Logger().Warn("soft: validation", "error", err)
}
