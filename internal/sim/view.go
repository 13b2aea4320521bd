package sim

import (
	"context"
	"fmt"
	"image"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/filter"
	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/wave"
)

// shadeGain scales heights before they are clamped to [0, 1].
const shadeGain = 1

// frame is the per-slot resource bundle. packed is the half-pair upload
// region for host heights; rgba receives the presented image.
type frame struct {
	packed []float32
	rgba   []float32
}

// view shades a height grid, optionally filters it, and reads it back
// through a frame ring. The pixels of a frame become visible when its slot
// comes around again.
type view struct {
	dev        gpu.Device
	tracker    *gpu.Tracker
	rows, cols int

	unpack *gpu.Stencil
	shade  *gpu.Stencil
	filter filter.Filter
	passes int
	pp     *filter.PingPong

	packed  gpu.Handle
	heights gpu.Handle
	color   gpu.Handle
	target  gpu.Handle

	ring   *gpu.FrameRing[*frame]
	rgba   []float32
	pixels []byte
	shown  uint64
}

// newView builds the presentation path. host adds the upload grids used
// when heights live in CPU memory.
func newView(dev gpu.Device, tracker *gpu.Tracker, cfg config.Config, host bool) (*view, error) {
	rows, cols := cfg.Wave.Rows, cfg.Wave.Cols
	v := &view{
		dev:     dev,
		tracker: tracker,
		rows:    rows,
		cols:    cols,
		rgba:    make([]float32, rows*cols*4),
		pixels:  make([]byte, rows*cols*4),
	}
	if err := v.init(cfg, host); err != nil {
		_ = v.close(context.Background())
		return nil, err
	}
	return v, nil
}

func (v *view) init(cfg config.Config, host bool) error {
	var err error
	if v.shade, err = gpu.NewStencil(v.dev, v.tracker, shadeKernel); err != nil {
		return err
	}
	if v.color, err = v.grid("view_color", v.cols, v.rows, 4); err != nil {
		return err
	}
	if host {
		if v.unpack, err = gpu.NewStencil(v.dev, v.tracker, unpackKernel); err != nil {
			return err
		}
		if v.packed, err = v.grid("view_packed", packedWidth(v.cols), v.rows, 1); err != nil {
			return err
		}
		if v.heights, err = v.grid("view_heights", v.cols, v.rows, 1); err != nil {
			return err
		}
	}

	switch cfg.Filter {
	case config.FilterBlur:
		b, err := filter.NewBlur(v.dev, v.tracker, cfg.Blur.Sigma)
		if err != nil {
			return fmt.Errorf("creating blur filter: %w", err)
		}
		gpu.Logger().Debug("sim: blur filter", "sigma", b.Sigma(), "taps", len(b.Weights()),
			"iterations", cfg.Blur.Iterations)
		v.filter, v.passes = b, cfg.Blur.Iterations
	case config.FilterEdge:
		e, err := filter.NewEdgeDetect(v.dev, v.tracker)
		if err != nil {
			return fmt.Errorf("creating edge filter: %w", err)
		}
		v.filter, v.passes = e, 1
	}
	if v.filter != nil {
		if v.pp, err = filter.NewPingPong(v.dev, v.tracker, v.cols, v.rows); err != nil {
			return err
		}
		if v.target, err = v.grid("view_target", v.cols, v.rows, 4); err != nil {
			return err
		}
	}

	n := v.rows * v.cols
	v.ring, err = gpu.NewFrameRing(gpu.RingConfig{Slots: cfg.FrameSlots, Timeout: cfg.Timeout()}, v.dev, v.dev,
		func(int) (*frame, error) {
			f := &frame{rgba: make([]float32, n*4)}
			if host {
				f.packed = make([]float32, packedWidth(v.cols)*v.rows)
			}
			return f, nil
		})
	return err
}

func (v *view) grid(label string, width, height, channels int) (gpu.Handle, error) {
	h, err := v.dev.CreateGrid(gpu.GridDesc{Label: label, Width: width, Height: height, Channels: channels})
	if err != nil {
		return gpu.Handle{}, fmt.Errorf("creating %s: %w", label, err)
	}
	v.tracker.Register(h, gpu.StateCommon)
	return h, nil
}

// begin acquires the next slot, publishes the image it last read back, and
// opens a command list for the new frame.
func (v *view) begin(ctx context.Context) (*gpu.FrameSlot[*frame], gpu.CommandList, error) {
	slot, err := v.ring.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	if slot.Fence > v.shown {
		copy(v.rgba, slot.Resources.rgba)
		toPixels(v.pixels, v.rgba)
		v.shown = slot.Fence
	}
	cl, err := v.dev.NewCommandList(fmt.Sprintf("frame slot %d", slot.Index))
	if err != nil {
		return nil, nil, fmt.Errorf("creating frame command list: %w", err)
	}
	return slot, cl, nil
}

// upload packs host heights into the slot's region, uploads them and
// expands them into the heights grid.
func (v *view) upload(cl gpu.CommandList, slot *gpu.FrameSlot[*frame], heights []float32) {
	packed := slot.Resources.packed
	pw := packedWidth(v.cols)
	for y := range v.rows {
		wave.PackHalfPairs(packed[y*pw:(y+1)*pw], heights[y*v.cols:(y+1)*v.cols])
	}
	v.tracker.Require(cl, v.packed, gpu.StateCopyDest)
	cl.Upload(v.packed, packed)
	v.unpack.Dispatch(cl, []gpu.Handle{v.packed}, []gpu.Handle{v.heights}, nil,
		v.unpack.GroupsFor(v.cols, v.rows))
}

// present records shading, filtering and readback of src, submits cl and
// signals the slot.
func (v *view) present(cl gpu.CommandList, slot *gpu.FrameSlot[*frame], src gpu.Handle) error {
	v.shade.Dispatch(cl, []gpu.Handle{src}, []gpu.Handle{v.color}, []float32{shadeGain},
		v.shade.GroupsFor(v.cols, v.rows))
	out := v.color
	if v.filter != nil {
		v.pp.Run(cl, v.color, v.target, v.filter, v.passes)
		out = v.target
	}
	v.tracker.Require(cl, out, gpu.StateCopySource)
	cl.Readback(out, slot.Resources.rgba)
	if err := v.dev.Submit(cl); err != nil {
		return fmt.Errorf("submitting frame: %w", err)
	}
	return v.ring.SubmitAndSignal(slot)
}

// latest returns the last published image, or nil before the first one.
func (v *view) latest() []byte {
	if v.shown == 0 {
		return nil
	}
	return v.pixels
}

// image returns the last published image, or nil before the first one.
func (v *view) image() image.Image {
	if v.shown == 0 {
		return nil
	}
	return filter.ImageFromGrid(v.rgba, v.cols, v.rows)
}

// close waits for every frame in flight and releases the view's resources.
func (v *view) close(ctx context.Context) error {
	var err error
	if v.ring != nil {
		err = v.ring.Flush(ctx)
	}
	for _, h := range []*gpu.Handle{&v.packed, &v.heights, &v.color, &v.target} {
		if h.Valid() {
			v.tracker.Forget(*h)
			v.dev.DestroyGrid(*h)
			*h = gpu.Handle{}
		}
	}
	if v.pp != nil {
		v.pp.Close()
	}
	if v.filter != nil {
		v.filter.Close()
	}
	for _, s := range []*gpu.Stencil{v.unpack, v.shade} {
		if s != nil {
			s.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("flushing frames: %w", err)
	}
	return nil
}

// toPixels converts RGBA floats in [0, 1] to 8-bit channels.
func toPixels(dst []byte, rgba []float32) {
	for i, c := range rgba {
		dst[i] = byte(min(max(c, 0), 1)*255 + 0.5)
	}
}
