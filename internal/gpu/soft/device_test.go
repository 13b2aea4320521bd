package soft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

var addKernel = &gpu.KernelSpec{
	Name:   "add",
	Tile:   gpu.Tile{X: 4, Y: 4},
	Layout: gpu.Layout{Inputs: 1, Outputs: 1, Constants: 1},
	Thread: func(inv *gpu.Invocation) {
		in, out := inv.In[0], inv.Out[0]
		if !out.InBounds(inv.X, inv.Y) {
			return
		}
		for c := range out.Channels {
			out.Set(inv.X, inv.Y, c, in.At(inv.X, inv.Y, c)+inv.Constants[0])
		}
	},
}

func newGrid(t *testing.T, d *Device, tr *gpu.Tracker, w, h int) gpu.Handle {
	t.Helper()
	g, err := d.CreateGrid(gpu.GridDesc{Label: "g", Width: w, Height: h, Channels: 1})
	require.NoError(t, err)
	tr.Register(g, gpu.StateCommon)
	return g
}

func TestDispatchRoundTrip(t *testing.T) {
	d := New(Options{Validate: true})
	defer d.Close()
	tr := gpu.NewTracker()
	src := newGrid(t, d, tr, 5, 3)
	dst := newGrid(t, d, tr, 5, 3)

	k, err := gpu.NewStencil(d, tr, addKernel)
	require.NoError(t, err)
	defer k.Close()

	data := make([]float32, 15)
	for i := range data {
		data[i] = float32(i)
	}
	out := make([]float32, 15)

	cl, err := d.NewCommandList("roundtrip")
	require.NoError(t, err)
	tr.Require(cl, src, gpu.StateCopyDest)
	cl.Upload(src, data)
	k.Dispatch(cl, []gpu.Handle{src}, []gpu.Handle{dst}, []float32{0.5}, k.GroupsFor(5, 3))
	tr.Require(cl, dst, gpu.StateCopySource)
	cl.Readback(dst, out)
	require.NoError(t, gpu.SubmitAndWait(context.Background(), d, cl))

	for i := range out {
		assert.Equal(t, float32(i)+0.5, out[i])
	}
	assert.Empty(t, d.Issues())
	state, ok := d.GridState(dst)
	require.True(t, ok)
	assert.Equal(t, gpu.StateCopySource, state)
}

func TestValidationReportsMissingBarrier(t *testing.T) {
	d := New(Options{Validate: true})
	defer d.Close()
	tr := gpu.NewTracker()
	g := newGrid(t, d, tr, 2, 2)

	cl, err := d.NewCommandList("unsafe")
	require.NoError(t, err)
	cl.Upload(g, make([]float32, 4))
	require.NoError(t, gpu.SubmitAndWait(context.Background(), d, cl))

	require.Len(t, d.Issues(), 1)
	assert.Contains(t, d.Issues()[0].Error(), "used as CopyDest")
}

func TestSignalsCompleteInOrder(t *testing.T) {
	d := New(Options{})
	defer d.Close()

	release := d.Hold()
	var values []uint64
	for range 3 {
		v, err := d.Signal()
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Equal(t, []uint64{1, 2, 3}, values)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), d.CompletedValue(), "held queue must not complete")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitFor(ctx, 1), context.DeadlineExceeded)

	release()
	require.NoError(t, d.WaitFor(context.Background(), 3))
	assert.Equal(t, uint64(3), d.CompletedValue())
}

func TestFrameRingWaitsOnHeldDevice(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	ring, err := gpu.NewFrameRing(gpu.RingConfig{Slots: 2}, d, d,
		func(int) ([]float32, error) { return make([]float32, 4), nil })
	require.NoError(t, err)
	ctx := context.Background()

	release := d.Hold()
	for range 2 {
		slot, err := ring.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, ring.SubmitAndSignal(slot))
	}

	done := make(chan uint64)
	go func() {
		slot, err := ring.Acquire(ctx)
		assert.NoError(t, err)
		done <- slot.Fence
	}()
	select {
	case <-done:
		t.Fatal("slot reused before its fence completed")
	case <-time.After(30 * time.Millisecond):
	}
	release()
	fence := <-done
	assert.GreaterOrEqual(t, d.CompletedValue(), fence)
	require.NoError(t, ring.Flush(ctx))
}

func TestClosedDevice(t *testing.T) {
	d := New(Options{})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.NewCommandList("late")
	assert.ErrorIs(t, err, gpu.ErrDeviceClosed)
	_, err = d.Signal()
	assert.ErrorIs(t, err, gpu.ErrDeviceClosed)
}

func TestSubmitTwiceFails(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	cl, err := d.NewCommandList("once")
	require.NoError(t, err)
	require.NoError(t, d.Submit(cl))
	assert.Error(t, d.Submit(cl))
}

func TestPanickingKernelIsReported(t *testing.T) {
	d := New(Options{Workers: 2})
	defer d.Close()
	tr := gpu.NewTracker()
	src := newGrid(t, d, tr, 4, 8)
	dst := newGrid(t, d, tr, 4, 8)
	k, err := gpu.NewStencil(d, tr, &gpu.KernelSpec{
		Name:   "bad_row",
		Tile:   gpu.Tile{X: 4, Y: 4},
		Layout: gpu.Layout{Inputs: 1, Outputs: 1},
		Thread: func(inv *gpu.Invocation) {
			if inv.Y == 5 {
				panic("row 5")
			}
			inv.Out[0].Set(inv.X, inv.Y, 0, 1)
		},
	})
	require.NoError(t, err)
	defer k.Close()

	cl, err := d.NewCommandList("panics")
	require.NoError(t, err)
	k.Dispatch(cl, []gpu.Handle{src}, []gpu.Handle{dst}, nil, k.GroupsFor(4, 8))
	require.NoError(t, gpu.SubmitAndWait(context.Background(), d, cl))

	issues := d.Issues()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Error(), "kernel bad_row panicked in group row 1")
	assert.Equal(t, uint64(2), k.GroupsFor(4, 8).Total())
}

func TestCreateProgramNeedsThread(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	_, err := d.CreateProgram(&gpu.KernelSpec{Name: "wgsl-only", Tile: gpu.Tile{X: 1, Y: 1}})
	assert.Error(t, err)
	_, err = d.CreateGrid(gpu.GridDesc{Width: 0, Height: 1, Channels: 1})
	assert.ErrorIs(t, err, gpu.ErrInvalidGrid)
}
