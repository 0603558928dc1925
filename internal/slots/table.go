// File: internal/slots/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Generation-checked slot storage for runtime tasks. Slots are recycled
// through a free list; every removal bumps the slot generation so all
// previously issued handles to that slot stop resolving.

package slots

// Handle identifies one live entry as an (index, generation) pair.
// Handles are cheap to copy and compare; equality requires both fields
// to match. The zero Handle never resolves.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.Gen == 0
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Table is an indexable store with free-slot recycling. It is owned and
// mutated by a single worker thread; no internal synchronization.
type Table[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// New creates a table with room for capacity entries before growing.
func New[T any](capacity int) *Table[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &Table[T]{
		slots: make([]slot[T], 0, capacity),
		free:  make([]uint32, 0, capacity),
	}
}

// Insert stores val in a free slot, bumping its generation, and returns
// the handle denoting it.
func (t *Table[T]) Insert(val T) Handle {
	t.count++
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s := &t.slots[idx]
		s.gen++
		s.live = true
		s.val = val
		return Handle{Index: idx, Gen: s.gen}
	}
	t.slots = append(t.slots, slot[T]{gen: 1, live: true, val: val})
	return Handle{Index: uint32(len(t.slots) - 1), Gen: 1}
}

// Get resolves h to its stored value. Stale and foreign handles fail with
// ok=false and never expose recycled slot data.
func (t *Table[T]) Get(h Handle) (T, bool) {
	var zero T
	if int(h.Index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return zero, false
	}
	return s.val, true
}

// Remove frees the slot denoted by h, invalidating the handle. It returns
// the removed value and whether h was live.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	if int(h.Index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return zero, false
	}
	val := s.val
	s.live = false
	s.val = zero
	// Bump on removal, not on reuse, so a handle minted later for the same
	// index can never collide with one issued before this point.
	s.gen++
	t.free = append(t.free, h.Index)
	t.count--
	return val, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	return t.count
}

// Range applies fn to every live entry until fn returns false.
func (t *Table[T]) Range(fn func(Handle, T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, s.val) {
			return
		}
	}
}
