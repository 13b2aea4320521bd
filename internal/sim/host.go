package sim

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/wave"
)

// hostSolver is a solver whose heights can be copied to host memory.
// *wave.CLSolver implements it directly.
type hostSolver interface {
	Disturb(i, j int, m float32) error
	Update(dt float32) (bool, error)
	ReadHeights(dst []float32) error
	Ticks() uint64
	Close()
}

// cpuSolver adapts wave.CPUSolver to hostSolver.
type cpuSolver struct {
	*wave.CPUSolver
}

func (s cpuSolver) Disturb(i, j int, m float32) error {
	s.CPUSolver.Disturb(i, j, m)
	return nil
}

func (s cpuSolver) Update(dt float32) (bool, error) { return s.CPUSolver.Update(dt), nil }

func (s cpuSolver) ReadHeights(dst []float32) error {
	copy(dst, s.Heights())
	return nil
}

// hostSim steps a host solver and uploads its heights every frame.
type hostSim struct {
	name    string
	solver  hostSolver
	dev     gpu.Device
	view    *view
	heights []float32
}

func newHostSim(name string, solver hostSolver, dev gpu.Device, cfg config.Config) (*hostSim, error) {
	v, err := newView(dev, gpu.NewTracker(), cfg, true)
	if err != nil {
		solver.Close()
		_ = dev.Close()
		return nil, err
	}
	gpu.Logger().Info("sim: host backend ready", "solver", name, "device", dev.Name(),
		"slots", cfg.FrameSlots, "filter", cfg.Filter)
	return &hostSim{
		name:    name,
		solver:  solver,
		dev:     dev,
		view:    v,
		heights: make([]float32, cfg.Wave.Rows*cfg.Wave.Cols),
	}, nil
}

func (s *hostSim) Name() string { return s.name }

func (s *hostSim) Ticks() uint64 { return s.solver.Ticks() }

func (s *hostSim) Pixels() []byte { return s.view.latest() }

func (s *hostSim) Image() image.Image { return s.view.image() }

func (s *hostSim) Frame(ctx context.Context, dt float32, updates int, disturbs []Disturbance) error {
	for _, d := range disturbs {
		if err := s.solver.Disturb(d.I, d.J, d.M); err != nil {
			return fmt.Errorf("disturbing (%d, %d): %w", d.I, d.J, err)
		}
	}
	for range updates {
		if _, err := s.solver.Update(dt); err != nil {
			return fmt.Errorf("updating %s solver: %w", s.name, err)
		}
	}
	if err := s.solver.ReadHeights(s.heights); err != nil {
		return fmt.Errorf("reading heights: %w", err)
	}
	slot, cl, err := s.view.begin(ctx)
	if err != nil {
		return err
	}
	s.view.upload(cl, slot, s.heights)
	return s.view.present(cl, slot, s.view.heights)
}

func (s *hostSim) Close() error {
	err := s.view.close(context.Background())
	s.solver.Close()
	return errors.Join(err, s.dev.Close())
}
