package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultFrameSlots is the usual number of frames the CPU may run ahead.
const DefaultFrameSlots = 3

// FrameSlot is one of the ring's per-frame resource bundles. Resources is
// CPU-owned from Acquire until SubmitAndSignal, then GPU-owned until the
// device completion counter reaches Fence.
type FrameSlot[T any] struct {
	Index     int
	Fence     uint64
	Resources T
}

// FrameRing hands out frame slots round-robin and blocks before handing out
// a slot whose previous submission has not completed. That wait is the only
// blocking point of the frame loop.
type FrameRing[T any] struct {
	slots   []*FrameSlot[T]
	current int
	value   uint64
	timeout time.Duration
	fence   Fence
	queue   Signaler
}

// RingConfig sizes a FrameRing. Timeout of zero waits forever.
type RingConfig struct {
	Slots   int
	Timeout time.Duration
}

// NewFrameRing allocates cfg.Slots slots with alloc. fence and queue are
// usually the same Device.
func NewFrameRing[T any](cfg RingConfig, fence Fence, queue Signaler, alloc func(i int) (T, error)) (*FrameRing[T], error) {
	if cfg.Slots < 1 {
		return nil, fmt.Errorf("gpu: frame ring needs at least one slot, got %d", cfg.Slots)
	}
	r := &FrameRing[T]{
		slots:   make([]*FrameSlot[T], cfg.Slots),
		timeout: cfg.Timeout,
		fence:   fence,
		queue:   queue,
	}
	for i := range r.slots {
		res, err := alloc(i)
		if err != nil {
			return nil, fmt.Errorf("allocating frame slot %d: %w", i, err)
		}
		r.slots[i] = &FrameSlot[T]{Index: i, Resources: res}
	}
	return r, nil
}

// Len returns the number of slots.
func (r *FrameRing[T]) Len() int { return len(r.slots) }

// Slots returns the slots in index order.
func (r *FrameRing[T]) Slots() []*FrameSlot[T] { return r.slots }

// Value returns the last completion value signalled through the ring.
func (r *FrameRing[T]) Value() uint64 { return r.value }

// Acquire advances to the next slot and waits until the device has finished
// the work last submitted with it.
func (r *FrameRing[T]) Acquire(ctx context.Context) (*FrameSlot[T], error) {
	r.current = (r.current + 1) % len(r.slots)
	slot := r.slots[r.current]
	if slot.Fence != 0 && r.fence.CompletedValue() < slot.Fence {
		Logger().Debug("gpu: waiting for frame slot", "slot", slot.Index, "fence", slot.Fence)
		if err := r.wait(ctx, slot.Fence); err != nil {
			return nil, fmt.Errorf("acquiring frame slot %d: %w", slot.Index, err)
		}
	}
	return slot, nil
}

// SubmitAndSignal records the next completion value into slot and signals
// it on the queue. Call it after submitting the frame's command lists.
func (r *FrameRing[T]) SubmitAndSignal(slot *FrameSlot[T]) error {
	v, err := r.queue.Signal()
	if err != nil {
		return fmt.Errorf("signalling frame slot %d: %w", slot.Index, err)
	}
	if v <= r.value {
		return fmt.Errorf("gpu: signal value %d does not follow %d", v, r.value)
	}
	r.value = v
	slot.Fence = v
	return nil
}

// Flush waits until every signalled value has completed.
func (r *FrameRing[T]) Flush(ctx context.Context) error {
	if r.value == 0 {
		return nil
	}
	return r.wait(ctx, r.value)
}

func (r *FrameRing[T]) wait(ctx context.Context, value uint64) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	err := r.fence.WaitFor(ctx, value)
	if errors.Is(err, context.DeadlineExceeded) && r.timeout > 0 {
		return fmt.Errorf("%w: value %d after %v", ErrFenceTimeout, value, r.timeout)
	}
	return err
}
