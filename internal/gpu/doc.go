// Package gpu holds the device-independent half of the compute pipeline:
// resource handles, the resource state tracker, the frame slot ring, and
// the stencil kernel contract shared by every compute variant.
//
// A single goroutine records commands into one CommandList per frame. The
// device executes submitted lists asynchronously, in submission order, and
// advances a monotonically increasing completion counter when it reaches a
// signalled value. Callers observe that counter through the Fence interface.
//
// Every operation on a grid must be preceded by a transition from its
// current state to the state the operation needs. Tracker is the single
// place those transitions are decided; nothing else emits barriers.
package gpu
