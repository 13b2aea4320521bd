package gpu

import "fmt"

// Handle is a stable, non-owning reference into an Arena. The zero Handle is
// invalid. A handle whose slot has been removed and reused never resolves,
// because the generation no longer matches.
type Handle struct {
	index uint32 // slot index + 1
	gen   uint32
}

// Valid reports whether h was issued by an Arena. It does not report whether
// the slot is still live.
func (h Handle) Valid() bool { return h.index != 0 }

// String returns "#index.gen".
func (h Handle) String() string {
	if !h.Valid() {
		return "#invalid"
	}
	return fmt.Sprintf("#%d.%d", h.index-1, h.gen)
}

type arenaSlot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Arena stores values behind generation-checked indices. Removing a value
// frees its slot for reuse without shifting any other slot, so stored handles
// stay valid across unrelated inserts and removals.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.value = v
	s.live = true
	a.live++
	return Handle{index: idx + 1, gen: s.gen}
}

func (a *Arena[T]) slot(h Handle) *arenaSlot[T] {
	if !h.Valid() || int(h.index) > len(a.slots) {
		return nil
	}
	s := &a.slots[h.index-1]
	if !s.live || s.gen != h.gen {
		return nil
	}
	return s
}

// Get returns the value for h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	if s := a.slot(h); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Remove deletes the value for h and returns it.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	s := a.slot(h)
	if s == nil {
		var zero T
		return zero, false
	}
	v := s.value
	var zero T
	s.value = zero
	s.live = false
	a.free = append(a.free, h.index-1)
	a.live--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.live }

// Each calls fn for every live value in slot order.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(Handle{index: uint32(i) + 1, gen: s.gen}, s.value)
		}
	}
}
