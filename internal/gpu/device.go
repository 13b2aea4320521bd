package gpu

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("gpu: device closed")

	// ErrUnknownResource is returned when a handle does not name a live grid or program.
	ErrUnknownResource = errors.New("gpu: unknown resource")

	// ErrFenceTimeout is returned when a bounded fence wait expires.
	ErrFenceTimeout = errors.New("gpu: fence wait timed out")

	// ErrInvalidGrid is returned when a grid descriptor has non-positive dimensions.
	ErrInvalidGrid = errors.New("gpu: invalid grid dimensions")
)

// GridDesc describes a 2D float32 resource of Width x Height cells with
// Channels values per cell, stored row-major.
type GridDesc struct {
	Label    string
	Width    int
	Height   int
	Channels int
}

// Len returns the number of float32 values in the grid.
func (d GridDesc) Len() int { return d.Width * d.Height * d.Channels }

// Validate checks the dimensions.
func (d GridDesc) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Channels <= 0 {
		return fmt.Errorf("%w: %q is %dx%dx%d", ErrInvalidGrid, d.Label, d.Width, d.Height, d.Channels)
	}
	return nil
}

// Groups is a thread-group count per axis.
type Groups struct {
	X, Y, Z uint32
}

// Total returns the number of thread groups.
func (g Groups) Total() uint64 { return uint64(g.X) * uint64(g.Y) * uint64(g.Z) }

// GroupCount returns ceil(dim / tile).
func GroupCount(dim, tile int) uint32 {
	if dim <= 0 || tile <= 0 {
		return 0
	}
	return uint32((dim + tile - 1) / tile)
}

// GroupsFor returns the groups needed to cover a width x height domain with
// the given tile.
func GroupsFor(width, height int, tile Tile) Groups {
	return Groups{X: GroupCount(width, tile.X), Y: GroupCount(height, tile.Y), Z: 1}
}

// Binding is the resource and constant payload of one dispatch. Its shape
// must match the Layout of the program it is dispatched with.
type Binding struct {
	Inputs    []Handle
	Outputs   []Handle
	Constants []float32
}

// Program is a kernel compiled for a specific device.
type Program interface {
	Spec() *KernelSpec
}

// CommandList records work for a device. Operations execute on the device
// in recording order once the list is submitted. A CommandList is not safe
// for concurrent use.
type CommandList interface {
	Label() string

	// Barrier transitions a grid. Only Tracker should call it.
	Barrier(b Barrier)

	// Upload copies data into dst. The slice is captured at record time.
	// dst must be in StateCopyDest.
	Upload(dst Handle, data []float32)

	// CopyGrid copies src into dst. src must be in StateCopySource and dst in
	// StateCopyDest.
	CopyGrid(dst, src Handle)

	// Dispatch runs a program over groups.
	Dispatch(p Program, b Binding, groups Groups)

	// Readback copies src into dst once the work submitted before the next
	// signal completes. src must be in StateCopySource. dst must stay
	// untouched by the caller until that signal value is observed.
	Readback(src Handle, dst []float32)
}

// Fence is the CPU view of the device completion counter.
type Fence interface {
	// CompletedValue returns the highest signal value the device has reached.
	CompletedValue() uint64

	// WaitFor blocks until CompletedValue() >= value or ctx is done.
	WaitFor(ctx context.Context, value uint64) error
}

// Signaler enqueues completion signals on the device queue.
type Signaler interface {
	// Signal enqueues a completion signal after all previously submitted work
	// and returns the value the completion counter will reach. Successive
	// values strictly increase.
	Signal() (uint64, error)
}

// Device owns grids and programs and executes command lists.
type Device interface {
	Fence
	Signaler

	Name() string

	CreateGrid(desc GridDesc) (Handle, error)
	DestroyGrid(h Handle)
	GridDesc(h Handle) (GridDesc, bool)

	CreateProgram(spec *KernelSpec) (Program, error)
	DestroyProgram(p Program)

	NewCommandList(label string) (CommandList, error)
	Submit(cl CommandList) error

	Close() error
}
