// Package sim runs a wave solver frame by frame and turns its heights into
// RGBA pixels.
//
// Every backend presents through a gpu.Device: shading, the optional blur
// or edge filter and the readback are stencil dispatches, and a
// gpu.FrameRing keeps up to Config.FrameSlots frames in flight. Solvers
// that keep heights in host memory (cpu, opencl) upload them each frame
// as packed half floats to a software device; the soft and wgpu backends
// run the solver and the presentation on the same device and never copy
// heights through the host.
package sim

import (
	"context"
	"fmt"
	"image"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/gpu/halgpu"
	"github.com/distortions81/stencilgpu/internal/gpu/soft"
	"github.com/distortions81/stencilgpu/internal/wave"
)

// Disturbance is one queued Disturb call on the current heights.
type Disturbance struct {
	I, J int
	M    float32
}

// Simulator advances a solver and presents its heights.
type Simulator interface {
	// Name describes the backend.
	Name() string

	// Ticks returns the number of solver ticks run or recorded so far.
	Ticks() uint64

	// Frame applies disturbs, calls the solver's Update updates times with
	// dt, and submits the presentation of the result. It blocks only when
	// every frame slot is still in flight.
	Frame(ctx context.Context, dt float32, updates int, disturbs []Disturbance) error

	// Pixels returns the latest completed image as RGBA8, Cols x Rows, or
	// nil before the first frame completes. The slice is reused by Frame.
	Pixels() []byte

	// Image returns a copy of the latest completed image, or nil.
	Image() image.Image

	// Close waits for frames in flight and releases the backend.
	Close() error
}

// New builds the simulator selected by cfg.Backend. A wgpu backend without
// a usable adapter falls back to the software device, and an opencl
// backend without a platform falls back to the cpu solver.
func New(cfg config.Config) (Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.WaveParams()
	switch cfg.Backend {
	case config.BackendSoft:
		return newDeviceSim(softDevice(cfg), cfg)
	case config.BackendWGPU:
		dev, err := halgpu.Open()
		if err != nil {
			gpu.Logger().Warn("sim: hardware device unavailable, using software device", "err", err)
			return newDeviceSim(softDevice(cfg), cfg)
		}
		return newDeviceSim(dev, cfg)
	case config.BackendOpenCL:
		solver, err := wave.NewCLSolver(p)
		if err == nil {
			return newHostSim("opencl "+solver.DeviceName(), solver, softDevice(cfg), cfg)
		}
		gpu.Logger().Warn("sim: opencl unavailable, using cpu solver", "err", err)
	}
	solver, err := wave.NewCPUSolver(p, cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating cpu solver: %w", err)
	}
	return newHostSim("cpu", cpuSolver{solver}, softDevice(cfg), cfg)
}

func softDevice(cfg config.Config) *soft.Device {
	return soft.New(soft.Options{Workers: cfg.Workers})
}
