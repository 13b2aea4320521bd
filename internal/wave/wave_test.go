package wave

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/gpu/soft"
)

func newCPU(t *testing.T, p Params, workers int) *CPUSolver {
	t.Helper()
	s, err := NewCPUSolver(p, workers)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCoefficients(t *testing.T) {
	tests := []struct {
		name                   string
		damping, dt, speed, dx float32
	}{
		{"pond", 0.2, 0.03, 4, 1},
		{"undamped", 0, 0.01, 1, 0.5},
		{"heavy", 2.5, 0.02, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewCoefficients(tt.damping, tt.dt, tt.speed, tt.dx)
			d := float64(tt.damping)*float64(tt.dt) + 2
			e := float64(tt.speed*tt.speed) * float64(tt.dt*tt.dt) / float64(tt.dx*tt.dx)
			assert.InDelta(t, (float64(tt.damping)*float64(tt.dt)-2)/d, float64(k.K1), 1e-6)
			assert.InDelta(t, (4-8*e)/d, float64(k.K2), 1e-6)
			assert.InDelta(t, 2*e/d, float64(k.K3), 1e-6)
			assert.Equal(t, k, NewCoefficients(tt.damping, tt.dt, tt.speed, tt.dx), "recomputation must be identical")
		})
	}
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.Rows = 4
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)

	p = DefaultParams()
	p.TimeStep = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)

	p = DefaultParams()
	p.Speed = 40
	assert.ErrorIs(t, p.Validate(), ErrUnstable)

	nan, inf := float32(math.NaN()), float32(math.Inf(1))
	for name, mutate := range map[string]func(*Params){
		"nan speed":   func(p *Params) { p.Speed = nan },
		"inf speed":   func(p *Params) { p.Speed = inf },
		"nan dx":      func(p *Params) { p.SpatialStep = nan },
		"inf dt":      func(p *Params) { p.TimeStep = inf },
		"nan damping": func(p *Params) { p.Damping = nan },
		"inf damping": func(p *Params) { p.Damping = inf },
	} {
		p := DefaultParams()
		mutate(&p)
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams, name)
	}

	p = DefaultParams()
	p.Speed = nan
	assert.ErrorIs(t, p.CheckStability(), ErrUnstable, "NaN is never stable")

	p = DefaultParams()
	p.TimeStep = 0.5
	assert.ErrorIs(t, p.Validate(), ErrUnstable)
}

func TestClock(t *testing.T) {
	c := Clock{Step: 0.03}
	assert.False(t, c.Advance(0.01))
	assert.False(t, c.Advance(0.01))
	assert.True(t, c.Advance(0.02))
	assert.Zero(t, c.Pending(), "accumulator resets after a tick")
	assert.True(t, c.Advance(0.1), "a long frame runs a single tick")
	assert.Zero(t, c.Pending())
}

func TestDisturbPrecondition(t *testing.T) {
	s := newCPU(t, DefaultParams(), 2)
	for _, c := range [][2]int{{1, 64}, {126, 64}, {64, 1}, {64, 126}, {0, 0}} {
		assert.Panics(t, func() { s.Disturb(c[0], c[1], 1) }, "cell %v", c)
	}
	assert.NotPanics(t, func() { s.Disturb(2, 2, 1) })
	assert.NotPanics(t, func() { s.Disturb(125, 125, 1) })
}

func TestDisturbRoundTrip(t *testing.T) {
	s := newCPU(t, DefaultParams(), 2)
	s.Disturb(40, 40, 0.25)
	s.Disturb(41, 40, 0.5)
	before := append([]float32(nil), s.Heights()...)

	s.Disturb(40, 41, 0.75)
	s.Disturb(40, 41, -0.75)
	assert.Equal(t, before, s.Heights())
}

func TestDisturbPattern(t *testing.T) {
	s := newCPU(t, DefaultParams(), 1)
	s.Disturb(10, 20, 0.4)
	assert.Equal(t, float32(0.4), s.Height(10, 20))
	for _, n := range [][2]int{{11, 20}, {9, 20}, {10, 21}, {10, 19}} {
		assert.Equal(t, float32(0.2), s.Height(n[0], n[1]))
	}
	assert.Zero(t, s.Height(11, 21))
}

func TestBoundaryUnchanged(t *testing.T) {
	p := DefaultParams()
	p.Rows, p.Cols = 12, 16
	s := newCPU(t, p, 3)
	s.Disturb(2, 2, 1)
	s.Disturb(9, 13, -1)
	for range 20 {
		s.Step()
		for i := range p.Rows {
			for j := range p.Cols {
				if i == 0 || j == 0 || i == p.Rows-1 || j == p.Cols-1 {
					require.Zero(t, s.Height(i, j), "boundary cell (%d, %d)", i, j)
				}
			}
		}
	}
	assert.Equal(t, uint64(20), s.Ticks())
}

func manhattan(i, j, ci, cj int) int {
	return int(math.Abs(float64(i-ci)) + math.Abs(float64(j-cj)))
}

// checkPond asserts the state of the 128x128 pond one tick after
// Disturb(64, 64, 0.4).
func checkPond(t *testing.T, rows, cols int, at func(i, j int) float32) {
	t.Helper()
	for i := 1; i < rows-1; i++ {
		for j := 1; j < cols-1; j++ {
			switch d := manhattan(i, j, 64, 64); {
			case d <= 1:
				assert.NotZero(t, at(i, j), "disturbed cell (%d, %d)", i, j)
			case d >= 3:
				if !assert.Zero(t, at(i, j), "cell (%d, %d) at distance %d", i, j, d) {
					return
				}
			}
		}
	}
}

func TestPondScenario(t *testing.T) {
	s := newCPU(t, DefaultParams(), 4)
	s.Disturb(64, 64, 0.4)
	assert.False(t, s.Update(0.01))
	assert.True(t, s.Update(0.03))
	checkPond(t, 128, 128, s.Height)

	// The previous buffer holds the disturbance itself.
	assert.Equal(t, float32(0.4), s.Field().Previous(64, 64))
}

func TestWorkerCounts(t *testing.T) {
	p := DefaultParams()
	p.Rows, p.Cols = 9, 11
	run := func(workers int) []float32 {
		s := newCPU(t, p, workers)
		s.Disturb(4, 5, 1)
		for range 5 {
			s.Step()
		}
		return s.Heights()
	}
	want := run(1)
	for _, workers := range []int{2, 3, 7, 64} {
		assert.Equal(t, want, run(workers), "workers=%d", workers)
	}
}

func TestNormalsAndPositions(t *testing.T) {
	s := newCPU(t, DefaultParams(), 2)
	s.Step()
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, s.Normal(30, 30))
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, s.Tangent(30, 30))
	assert.Equal(t, mgl32.Vec3{-63.5, 0, 63.5}, s.Position(0, 0))
	assert.Equal(t, mgl32.Vec3{63.5, 0, -63.5}, s.Position(127, 127))

	s.Disturb(64, 64, 0.4)
	s.Step()
	n := s.Normal(64, 63)
	assert.InDelta(t, 1, float64(n.Len()), 1e-5)
	// The peak is to the right of (64, 63), so the surface leans left.
	assert.Less(t, n.X(), float32(0))
	tan := s.Tangent(64, 63)
	assert.InDelta(t, 1, float64(tan.Len()), 1e-5)
	assert.Greater(t, tan.Y(), float32(0))
}

func TestDisturber(t *testing.T) {
	d := NewDisturber(0.25, 0.2, 0.5, 7)
	var hits int
	var lastI, lastJ int
	var lastM float32
	record := func(i, j int, m float32) {
		hits++
		lastI, lastJ, lastM = i, j, m
	}
	assert.False(t, d.Advance(0.1, 128, 128, record))
	assert.False(t, d.Advance(0.1, 128, 128, record))
	assert.True(t, d.Advance(0.1, 128, 128, record))
	assert.Equal(t, 1, hits)

	for range 500 {
		d.Advance(0.25, 128, 128, record)
		require.GreaterOrEqual(t, lastI, 4)
		require.LessOrEqual(t, lastI, 123)
		require.GreaterOrEqual(t, lastJ, 4)
		require.LessOrEqual(t, lastJ, 123)
		require.GreaterOrEqual(t, lastM, float32(0.2))
		require.LessOrEqual(t, lastM, float32(0.5))
	}
	assert.Equal(t, 501, hits)

	a, b := NewDisturber(0.25, 0.2, 0.5, 42), NewDisturber(0.25, 0.2, 0.5, 42)
	var ra, rb [3]float32
	a.Advance(1, 64, 64, func(i, j int, m float32) { ra = [3]float32{float32(i), float32(j), m} })
	b.Advance(1, 64, 64, func(i, j int, m float32) { rb = [3]float32{float32(i), float32(j), m} })
	assert.Equal(t, ra, rb, "same seed, same disturbance")
}

func TestHalfPacking(t *testing.T) {
	src := []float32{0, 1, -2, 0.5, 65504, 1e6, float32(math.Inf(-1)), 6.103515625e-05, 5.960464477539063e-08}
	dst := make([]uint16, len(src))
	PackHalf(dst, src)
	assert.Equal(t, []uint16{0x0000, 0x3c00, 0xc000, 0x3800, 0x7bff, 0x7c00, 0xfc00, 0x0400, 0x0001}, dst)

	back := make([]float32, len(dst))
	UnpackHalf(back, dst)
	assert.Equal(t, []float32{0, 1, -2, 0.5, 65504}, back[:5])
	assert.True(t, math.IsInf(float64(back[5]), 1))
	assert.Equal(t, float32(6.103515625e-05), back[7])
	assert.Equal(t, float32(5.960464477539063e-08), back[8])

	tie := make([]uint16, 1)
	PackHalf(tie, []float32{1 + 1.0/2048})
	assert.Equal(t, uint16(0x3c00), tie[0], "ties round to even")

	nan := make([]uint16, 1)
	PackHalf(nan, []float32{float32(math.NaN())})
	assert.Equal(t, uint16(0x7c00), nan[0]&0x7c00)
	assert.NotZero(t, nan[0]&0x3ff)
}

func TestHalfPairs(t *testing.T) {
	src := []float32{1, -2, 0.5}
	words := make([]float32, 2)
	PackHalfPairs(words, src)
	assert.Equal(t, uint32(0xc0003c00), math.Float32bits(words[0]))

	lo, hi := UnpackHalfPair(words[0])
	assert.Equal(t, float32(1), lo)
	assert.Equal(t, float32(-2), hi)
	lo, hi = UnpackHalfPair(words[1])
	assert.Equal(t, float32(0.5), lo)
	assert.Equal(t, float32(0), hi, "odd tail pairs with zero")
}

func newSoftSolver(t *testing.T, p Params) (*soft.Device, *gpu.Tracker, *GPUSolver) {
	t.Helper()
	dev := soft.New(soft.Options{Validate: true})
	t.Cleanup(func() { _ = dev.Close() })
	tr := gpu.NewTracker()
	cl, err := dev.NewCommandList("init")
	require.NoError(t, err)
	s, err := NewGPUSolver(dev, tr, p, cl)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, gpu.SubmitAndWait(context.Background(), dev, cl))
	return dev, tr, s
}

func readHeights(t *testing.T, dev *soft.Device, s *GPUSolver) []float32 {
	t.Helper()
	p := s.Params()
	out := make([]float32, p.Rows*p.Cols)
	cl, err := dev.NewCommandList("readback")
	require.NoError(t, err)
	s.ReadHeights(cl, out)
	require.NoError(t, gpu.SubmitAndWait(context.Background(), dev, cl))
	return out
}

func TestGPUPondScenario(t *testing.T) {
	dev, _, s := newSoftSolver(t, DefaultParams())
	cl, err := dev.NewCommandList("frame")
	require.NoError(t, err)
	s.Disturb(cl, 64, 64, 0.4)
	assert.False(t, s.Update(cl, 0.01))
	assert.True(t, s.Update(cl, 0.03))
	require.NoError(t, gpu.SubmitAndWait(context.Background(), dev, cl))

	h := readHeights(t, dev, s)
	checkPond(t, 128, 128, func(i, j int) float32 { return h[i*128+j] })
	assert.Empty(t, dev.Issues())
}

func TestGPUMatchesCPU(t *testing.T) {
	p := DefaultParams()
	p.Rows, p.Cols = 40, 56
	cpu := newCPU(t, p, 3)
	dev, tr, g := newSoftSolver(t, p)

	kicks := map[int][3]float32{0: {20, 20, 0.4}, 3: {10, 40, -0.3}, 7: {30, 12, 0.25}}
	for tick := range 15 {
		cl, err := dev.NewCommandList("frame")
		require.NoError(t, err)
		if k, ok := kicks[tick]; ok {
			cpu.Disturb(int(k[0]), int(k[1]), k[2])
			g.Disturb(cl, int(k[0]), int(k[1]), k[2])
		}
		cpu.Step()
		g.Step(cl)
		require.NoError(t, gpu.SubmitAndWait(context.Background(), dev, cl))
	}

	got := readHeights(t, dev, g)
	want := cpu.Heights()
	require.Len(t, got, len(want))
	for i := range want {
		require.InDelta(t, want[i], got[i], 1e-5, "cell %d", i)
	}
	assert.Empty(t, dev.Issues())
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, uint64(15), g.Ticks())
}

func TestGPURotationStates(t *testing.T) {
	dev, tr, s := newSoftSolver(t, DefaultParams())
	cl, err := dev.NewCommandList("frame")
	require.NoError(t, err)
	written := s.grids[s.next]
	s.Step(cl)
	assert.Equal(t, written, s.Displacement(), "the written buffer becomes current")

	state, _ := tr.State(s.Displacement())
	assert.Equal(t, gpu.StateUnorderedAccess, state)
	s.PrepareForSampling(cl)
	state, _ = tr.State(s.Displacement())
	assert.Equal(t, gpu.StateShaderRead, state)
	require.NoError(t, gpu.SubmitAndWait(context.Background(), dev, cl))
	assert.Empty(t, dev.Issues())
}

func TestGPUDisturbPrecondition(t *testing.T) {
	dev, _, s := newSoftSolver(t, DefaultParams())
	cl, err := dev.NewCommandList("bad")
	require.NoError(t, err)
	assert.Panics(t, func() { s.Disturb(cl, 1, 50, 1) })
}
