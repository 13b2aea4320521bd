package gpu

import (
	"context"
	"fmt"
)

// Queue is the part of a Device needed to submit and wait.
type Queue interface {
	Fence
	Signaler
	Submit(cl CommandList) error
}

// SubmitAndWait submits cl, signals, and blocks until the device has reached
// the signalled value. This is a full flush used by readback and setup; the
// interactive frame path goes through FrameRing instead.
func SubmitAndWait(ctx context.Context, q Queue, cl CommandList) error {
	if err := q.Submit(cl); err != nil {
		return fmt.Errorf("submitting %s: %w", cl.Label(), err)
	}
	v, err := q.Signal()
	if err != nil {
		return fmt.Errorf("signalling after %s: %w", cl.Label(), err)
	}
	if err := q.WaitFor(ctx, v); err != nil {
		return fmt.Errorf("waiting for %s: %w", cl.Label(), err)
	}
	return nil
}
