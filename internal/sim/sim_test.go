package sim

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/gpu/halgpu"
	"github.com/distortions81/stencilgpu/internal/wave"
)

const (
	testRows = 16
	testCols = 15
)

func testConfig(backend string) config.Config {
	cfg := config.Default()
	cfg.Backend = backend
	cfg.Wave.Rows, cfg.Wave.Cols = testRows, testCols
	cfg.FrameSlots = 2
	cfg.Workers = 2
	return cfg
}

func newSim(t *testing.T, cfg config.Config) Simulator {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

// pixel returns the RGBA bytes of cell (i, j).
func pixel(px []byte, i, j int) []byte {
	o := (i*testCols + j) * 4
	return px[o : o+4]
}

// frames runs n frames, disturbing the centre on the first one.
func frames(t *testing.T, s Simulator, n int, dt float32, updates int) {
	t.Helper()
	ctx := context.Background()
	for f := range n {
		var d []Disturbance
		if f == 0 {
			d = []Disturbance{{I: 8, J: 7, M: 1}}
		}
		require.NoError(t, s.Frame(ctx, dt, updates, d))
	}
}

func TestFootprint(t *testing.T) {
	assert.Equal(t, []Offset{{0, 0}}, Footprint(0))
	fp := Footprint(2)
	assert.Len(t, fp, 13)
	for _, o := range fp {
		assert.LessOrEqual(t, o.DI*o.DI+o.DJ*o.DJ, 4)
	}
}

func TestStampSkipsRejectedCells(t *testing.T) {
	got := Stamp(nil, Footprint(1), 10, 10, 2, 2, 0.5)
	assert.ElementsMatch(t, []Disturbance{
		{I: 2, J: 2, M: 0.5},
		{I: 3, J: 2, M: 0.5},
		{I: 2, J: 3, M: 0.5},
	}, got)

	assert.True(t, CanDisturb(10, 10, 2, 7))
	assert.False(t, CanDisturb(10, 10, 2, 8))
	assert.False(t, CanDisturb(10, 10, 1, 5))
}

func TestWalkerStampsWhileMoving(t *testing.T) {
	w := NewWalker(20, 20, 1, 3, 0.25)
	assert.Equal(t, 10.0, w.Row)
	assert.Equal(t, 10.0, w.Col)

	got := w.Move(nil, 0, 1)
	assert.Len(t, got, 5, "first moving frame stamps the footprint")
	for _, d := range got {
		assert.Equal(t, float32(0.25), d.M)
	}
	assert.Equal(t, 0.0, w.HeadRow)
	assert.Equal(t, 1.0, w.HeadCol)

	got = w.Move(got[:0], 0, 1)
	got = w.Move(got, 0, 1)
	assert.Empty(t, got, "next footstep is StepEvery frames away")
	got = w.Move(got, 0, 1)
	assert.Len(t, got, 5)

	assert.Empty(t, w.Move(nil, 0, 0))
	assert.Len(t, w.Move(nil, -1, 0), 5, "moving again after a stop stamps at once")
	assert.Equal(t, -1.0, w.HeadRow)
}

func TestWalkerStaysOnGrid(t *testing.T) {
	w := NewWalker(12, 12, 2, 1, 1)
	for range 20 {
		w.Move(nil, -1, 3)
	}
	assert.Equal(t, 2.0, w.Row)
	assert.Equal(t, 9.0, w.Col)
}

func TestWanderKeepsWalkerInside(t *testing.T) {
	w := NewWalker(24, 24, 2, 4, 1)
	a, b := NewWander(7), NewWander(7)
	for range 500 {
		dr, dc := a.Next(w, 0.6)
		er, ec := b.Next(w, 0.6)
		require.Equal(t, dr, er, "same seed, same walk")
		require.Equal(t, dc, ec)
		if dr != 0 || dc != 0 {
			require.InDelta(t, 0.6, math.Hypot(dr, dc), 1e-9)
		}
		w.Move(nil, dr, dc)
		require.True(t, w.Row >= 2 && w.Row <= 21 && w.Col >= 2 && w.Col <= 21, "walker left the grid at (%g, %g)", w.Row, w.Col)
	}
}

func TestImageDisturbances(t *testing.T) {
	white := image.NewUniform(color.White)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(img, img.Bounds(), white, image.Point{}, draw.Src)

	got := ImageDisturbances(img, testRows, testCols, 4, 0.5)
	require.Len(t, got, 9)
	for _, d := range got {
		assert.True(t, CanDisturb(testRows, testCols, d.I, d.J))
		assert.Zero(t, d.I%4)
		assert.Zero(t, d.J%4)
		assert.InDelta(t, 0.5, d.M, 1e-3)
	}

	black := image.NewRGBA(image.Rect(0, 0, 8, 8))
	assert.Empty(t, ImageDisturbances(black, testRows, testCols, 4, 0.5))
}

func TestToPixels(t *testing.T) {
	dst := make([]byte, 5)
	toPixels(dst, []float32{-1, 0, 0.5, 1, 2})
	assert.Equal(t, []byte{0, 0, 128, 255, 255}, dst)
}

func TestHostPresentsWhenSlotReturns(t *testing.T) {
	s := newSim(t, testConfig(config.BackendCPU))
	assert.Equal(t, "cpu", s.Name())
	assert.Nil(t, s.Pixels())

	frames(t, s, 2, 0, 0)
	assert.Nil(t, s.Pixels(), "first frame is published when its slot comes around")

	frames(t, s, 1, 0, 0)
	px := s.Pixels()
	require.Len(t, px, testRows*testCols*4)
	assert.Equal(t, []byte{255, 255, 255, 255}, pixel(px, 8, 7))
	assert.Equal(t, []byte{128, 128, 128, 255}, pixel(px, 7, 7))
	assert.Equal(t, []byte{0, 0, 0, 255}, pixel(px, 0, 0))
	assert.Zero(t, s.Ticks())

	img := s.Image()
	require.NotNil(t, img)
	r, _, _, a := img.At(7, 8).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), a)
	require.NoError(t, s.Close())
}

func TestDeviceMatchesHost(t *testing.T) {
	host := newSim(t, testConfig(config.BackendCPU))
	dev := newSim(t, testConfig(config.BackendSoft))
	dt := config.Default().Wave.TimeStep

	frames(t, host, 6, dt, 1)
	frames(t, dev, 6, dt, 1)
	assert.Equal(t, uint64(6), host.Ticks())
	assert.Equal(t, uint64(6), dev.Ticks())

	a, b := host.Pixels(), dev.Pixels()
	require.Len(t, a, len(b))
	for i := range a {
		require.InDelta(t, a[i], b[i], 1, "byte %d", i)
	}
	require.NoError(t, host.Close())
	require.NoError(t, dev.Close())
}

func TestBlurFilterSpreadsPeak(t *testing.T) {
	cfg := testConfig(config.BackendSoft)
	cfg.Filter = config.FilterBlur
	cfg.Blur.Sigma, cfg.Blur.Iterations = 1, 1
	s := newSim(t, cfg)

	frames(t, s, 3, 0, 0)
	px := s.Pixels()
	require.NotNil(t, px)
	centre := pixel(px, 8, 7)
	assert.Less(t, centre[0], byte(255))
	assert.Greater(t, centre[0], byte(0))
	assert.Equal(t, byte(255), centre[3])
	assert.Equal(t, byte(0), pixel(px, 8, 12)[0], "beyond the blur radius")
	require.NoError(t, s.Close())
}

func TestEdgeFilterDarkensSlopes(t *testing.T) {
	cfg := testConfig(config.BackendCPU)
	cfg.Filter = config.FilterEdge
	s := newSim(t, cfg)

	frames(t, s, 3, 0, 0)
	px := s.Pixels()
	require.NotNil(t, px)
	assert.Equal(t, byte(255), pixel(px, 8, 7)[0], "symmetric peak has no gradient")
	assert.Less(t, pixel(px, 7, 7)[0], byte(128))
	require.NoError(t, s.Close())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("vulkan")
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenCLFallsBackToCPU(t *testing.T) {
	s := newSim(t, testConfig(config.BackendOpenCL))
	defer func() { require.NoError(t, s.Close()) }()
	if !strings.HasPrefix(s.Name(), "opencl") {
		assert.Equal(t, "cpu", s.Name())
	}
	frames(t, s, 3, 0, 0)
	assert.NotNil(t, s.Pixels())
}

func TestViewKernelsCompile(t *testing.T) {
	for _, k := range []*gpu.KernelSpec{unpackKernel, shadeKernel} {
		t.Run(k.Name, func(t *testing.T) {
			words, err := halgpu.CompileWGSL(k.WGSL)
			if err != nil && (strings.Contains(err.Error(), "not yet implemented") || strings.Contains(err.Error(), "not supported")) {
				t.Skipf("naga limitation: %v", err)
			}
			require.NoError(t, err)
			require.NotEmpty(t, words)
			assert.Equal(t, uint32(0x07230203), words[0], "SPIR-V magic")
		})
	}
}

func TestUnpackKernel(t *testing.T) {
	heights := []float32{1, -0.5, 0.25, 2, 0, -3, 0.125}
	packed := make([]float32, packedWidth(len(heights)))
	wave.PackHalfPairs(packed, heights)

	out := gpu.GridView{Width: len(heights), Height: 1, Channels: 1, Data: make([]float32, len(heights))}
	in := gpu.GridView{Width: len(packed), Height: 1, Channels: 1, Data: packed}
	for x := range out.Width + 2 {
		unpackKernel.Thread(&gpu.Invocation{X: x, In: []gpu.GridView{in}, Out: []gpu.GridView{out}})
	}
	assert.Equal(t, heights, out.Data)
}
