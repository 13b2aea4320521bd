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

// deviceSim records solver ticks and presentation into one command list
// per frame on the same device.
type deviceSim struct {
	dev    gpu.Device
	solver *wave.GPUSolver
	view   *view
}

func newDeviceSim(dev gpu.Device, cfg config.Config) (*deviceSim, error) {
	s, err := buildDeviceSim(dev, cfg)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	gpu.Logger().Info("sim: device backend ready", "device", dev.Name(),
		"slots", cfg.FrameSlots, "filter", cfg.Filter)
	return s, nil
}

func buildDeviceSim(dev gpu.Device, cfg config.Config) (*deviceSim, error) {
	tracker := gpu.NewTracker()
	cl, err := dev.NewCommandList("wave init")
	if err != nil {
		return nil, fmt.Errorf("creating init command list: %w", err)
	}
	solver, err := wave.NewGPUSolver(dev, tracker, cfg.WaveParams(), cl)
	if err != nil {
		return nil, err
	}
	if err := gpu.SubmitAndWait(context.Background(), dev, cl); err != nil {
		solver.Close()
		return nil, err
	}
	v, err := newView(dev, tracker, cfg, false)
	if err != nil {
		solver.Close()
		return nil, err
	}
	return &deviceSim{dev: dev, solver: solver, view: v}, nil
}

func (s *deviceSim) Name() string { return s.dev.Name() }

func (s *deviceSim) Ticks() uint64 { return s.solver.Ticks() }

func (s *deviceSim) Pixels() []byte { return s.view.latest() }

func (s *deviceSim) Image() image.Image { return s.view.image() }

func (s *deviceSim) Frame(ctx context.Context, dt float32, updates int, disturbs []Disturbance) error {
	slot, cl, err := s.view.begin(ctx)
	if err != nil {
		return err
	}
	for _, d := range disturbs {
		s.solver.Disturb(cl, d.I, d.J, d.M)
	}
	for range updates {
		s.solver.Update(cl, dt)
	}
	return s.view.present(cl, slot, s.solver.Displacement())
}

func (s *deviceSim) Close() error {
	err := s.view.close(context.Background())
	s.solver.Close()
	return errors.Join(err, s.dev.Close())
}
