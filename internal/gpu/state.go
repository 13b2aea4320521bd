package gpu

import "fmt"

// ResourceState is the last declared hardware usage of a grid.
type ResourceState uint8

const (
	// StateCommon is the initial and terminal state; no pending GPU work implied.
	StateCommon ResourceState = iota
	// StateUnorderedAccess allows compute writes.
	StateUnorderedAccess
	// StateShaderRead allows sampling or read-only storage access.
	StateShaderRead
	// StateCopySource allows the resource to be the source of a copy or readback.
	StateCopySource
	// StateCopyDest allows the resource to be the destination of a copy or upload.
	StateCopyDest
)

// String returns the string representation of ResourceState.
func (s ResourceState) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateUnorderedAccess:
		return "UnorderedAccess"
	case StateShaderRead:
		return "ShaderRead"
	case StateCopySource:
		return "CopySource"
	case StateCopyDest:
		return "CopyDest"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Barrier is a single state transition recorded into a command list.
type Barrier struct {
	Resource Handle
	Before   ResourceState
	After    ResourceState
}

// String formats the barrier for logs.
func (b Barrier) String() string {
	return fmt.Sprintf("%s: %s -> %s", b.Resource, b.Before, b.After)
}
