//go:build opencl

package wave

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

const clSource = `__kernel void wave_step(
    const int width,
    const int height,
    const float k1,
    const float k2,
    const float k3,
    __global const float* prev,
    __global const float* curr,
    __global float* next_buffer)
{
    int idx = get_global_id(0);
    if (idx >= width * height) {
        return;
    }
    int x = idx % width;
    int y = idx / width;
    if (x <= 0 || x >= width - 1 || y <= 0 || y >= height - 1) {
        return;
    }
    float around = curr[idx + width] + curr[idx - width] + curr[idx + 1] + curr[idx - 1];
    next_buffer[idx] = k1 * prev[idx] + k2 * curr[idx] + k3 * around;
}

__kernel void disturb(
    const int width,
    const int row,
    const int col,
    const float magnitude,
    __global float* curr)
{
    if (get_global_id(0) != 0) {
        return;
    }
    int idx = row * width + col;
    float half_m = 0.5f * magnitude;
    curr[idx] += magnitude;
    curr[idx + width] += half_m;
    curr[idx - width] += half_m;
    curr[idx + 1] += half_m;
    curr[idx - 1] += half_m;
}`

// CLSolver runs the update rule as OpenCL kernels. The three device
// buffers rotate like the CPU field; kernel arguments are rebound only
// when the buffer behind a slot changes.
type CLSolver struct {
	params Params
	coeff  Coefficients
	clock  Clock
	ticks  uint64

	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program
	step    *cl.Kernel
	disturb *cl.Kernel

	bufs             [3]*cl.MemObject
	prev, curr, next int
	bound            [3]*cl.MemObject

	deviceName string
}

// NewCLSolver picks the first GPU device, falling back to a CPU device,
// and uploads zeroed buffers.
func NewCLSolver(p Params) (*CLSolver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	device, err := pickCLDevice()
	if err != nil {
		return nil, err
	}

	s := &CLSolver{
		params:     p,
		coeff:      p.Coefficients(),
		clock:      Clock{Step: p.TimeStep},
		prev:       0,
		curr:       1,
		next:       2,
		deviceName: device.Name(),
	}
	if err := s.init(device); err != nil {
		s.Close()
		return nil, err
	}
	gpu.Logger().Info("wave: opencl solver created", "device", s.deviceName,
		"grid", fmt.Sprintf("%dx%d", p.Rows, p.Cols))
	return s, nil
}

func pickCLDevice() (*cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available")
	}
	for _, kind := range []cl.DeviceType{cl.DeviceTypeGPU, cl.DeviceTypeCPU} {
		for _, p := range platforms {
			devices, derr := p.GetDevices(kind)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				return devices[0], nil
			}
		}
	}
	return nil, errors.New("no suitable OpenCL devices found")
}

func (s *CLSolver) init(device *cl.Device) error {
	var err error
	if s.context, err = cl.CreateContext([]*cl.Device{device}); err != nil {
		return fmt.Errorf("creating OpenCL context: %w", err)
	}
	if s.queue, err = s.context.CreateCommandQueue(device, 0); err != nil {
		return fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	if s.program, err = s.context.CreateProgramWithSource([]string{clSource}); err != nil {
		return fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := s.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		if buildErr, ok := err.(cl.BuildError); ok {
			return fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return fmt.Errorf("building OpenCL program: %w", err)
	}
	if s.step, err = s.program.CreateKernel("wave_step"); err != nil {
		return fmt.Errorf("creating step kernel: %w", err)
	}
	if s.disturb, err = s.program.CreateKernel("disturb"); err != nil {
		return fmt.Errorf("creating disturb kernel: %w", err)
	}

	n := s.params.Rows * s.params.Cols
	zeros := make([]float32, n)
	for i := range s.bufs {
		if s.bufs[i], err = s.context.CreateEmptyBuffer(cl.MemReadWrite, n*int(unsafe.Sizeof(float32(0)))); err != nil {
			return fmt.Errorf("allocating buffer %d: %w", i, err)
		}
		if _, err := s.queue.EnqueueWriteBufferFloat32(s.bufs[i], true, 0, zeros, nil); err != nil {
			return fmt.Errorf("clearing buffer %d: %w", i, err)
		}
	}

	k := s.coeff
	if err := s.step.SetArgs(
		int32(s.params.Cols),
		int32(s.params.Rows),
		k.K1, k.K2, k.K3,
		s.bufs[s.prev], s.bufs[s.curr], s.bufs[s.next],
	); err != nil {
		return fmt.Errorf("setting step kernel arguments: %w", err)
	}
	s.bound = [3]*cl.MemObject{s.bufs[s.prev], s.bufs[s.curr], s.bufs[s.next]}
	return nil
}

// bindRotating rebinds the step kernel's buffer arguments 5..7 to the
// current roles.
func (s *CLSolver) bindRotating() error {
	want := [3]*cl.MemObject{s.bufs[s.prev], s.bufs[s.curr], s.bufs[s.next]}
	for slot, buf := range want {
		if s.bound[slot] == buf {
			continue
		}
		if err := s.step.SetArgBuffer(5+slot, buf); err != nil {
			return err
		}
		s.bound[slot] = buf
	}
	return nil
}

// DeviceName returns the OpenCL device name.
func (s *CLSolver) DeviceName() string { return s.deviceName }

// Params returns the construction parameters.
func (s *CLSolver) Params() Params { return s.params }

// Ticks returns the number of steps enqueued.
func (s *CLSolver) Ticks() uint64 { return s.ticks }

// Disturb enqueues a disturbance of the current buffer. It panics unless
// 1 < i < Rows-2 and 1 < j < Cols-2.
func (s *CLSolver) Disturb(i, j int, m float32) error {
	checkDisturb(s.params, i, j)
	curr := s.bufs[s.curr]
	if err := s.disturb.SetArgs(int32(s.params.Cols), int32(i), int32(j), m, curr); err != nil {
		return fmt.Errorf("setting disturb arguments: %w", err)
	}
	if _, err := s.queue.EnqueueNDRangeKernel(s.disturb, nil, []int{1}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing disturb: %w", err)
	}
	return nil
}

// Update accumulates dt and enqueues one tick when a full time step has
// elapsed.
func (s *CLSolver) Update(dt float32) (bool, error) {
	if !s.clock.Advance(dt) {
		return false, nil
	}
	return true, s.Step()
}

// Step enqueues one tick and rotates the buffers.
func (s *CLSolver) Step() error {
	if err := s.bindRotating(); err != nil {
		return fmt.Errorf("binding buffers: %w", err)
	}
	global := []int{s.params.Rows * s.params.Cols}
	if _, err := s.queue.EnqueueNDRangeKernel(s.step, nil, global, nil, nil); err != nil {
		return fmt.Errorf("enqueueing step: %w", err)
	}
	s.prev, s.curr, s.next = s.curr, s.next, s.prev
	s.ticks++
	return nil
}

// ReadHeights blocks until queued work is done and copies the current
// heights into dst.
func (s *CLSolver) ReadHeights(dst []float32) error {
	if len(dst) != s.params.Rows*s.params.Cols {
		return fmt.Errorf("wave: read of %d heights into %d values", s.params.Rows*s.params.Cols, len(dst))
	}
	if _, err := s.queue.EnqueueReadBufferFloat32(s.bufs[s.curr], true, 0, dst, nil); err != nil {
		return fmt.Errorf("reading current buffer: %w", err)
	}
	return nil
}

// Close releases every OpenCL object created so far.
func (s *CLSolver) Close() {
	for i, b := range s.bufs {
		if b != nil {
			b.Release()
			s.bufs[i] = nil
		}
	}
	if s.disturb != nil {
		s.disturb.Release()
		s.disturb = nil
	}
	if s.step != nil {
		s.step.Release()
		s.step = nil
	}
	if s.program != nil {
		s.program.Release()
		s.program = nil
	}
	if s.queue != nil {
		s.queue.Release()
		s.queue = nil
	}
	if s.context != nil {
		s.context.Release()
		s.context = nil
	}
}
