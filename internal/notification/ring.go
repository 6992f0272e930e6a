package notification

// Ring is a fixed-capacity buffer that overwrites its oldest item when full.
// Iteration order is newest first. Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	start int // index of the oldest item
	count int
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push inserts item as the newest entry. When the ring is full the oldest
// entry is overwritten and returned with evicted=true.
func (r *Ring[T]) Push(item T) (old T, evicted bool) {
	capacity := len(r.buf)
	if r.count < capacity {
		r.buf[(r.start+r.count)%capacity] = item
		r.count++
		return old, false
	}

	old = r.buf[r.start]
	r.buf[r.start] = item
	r.start = (r.start + 1) % capacity
	return old, true
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// index converts a newest-first position into a slot in buf.
func (r *Ring[T]) index(i int) int {
	return (r.start + r.count - 1 - i) % len(r.buf)
}

// At returns the i-th newest item (0 = newest).
func (r *Ring[T]) At(i int) (T, bool) {
	if i < 0 || i >= r.count {
		var zero T
		return zero, false
	}
	return r.buf[r.index(i)], true
}

// Each calls fn with a pointer to every item, newest first, until fn returns false.
func (r *Ring[T]) Each(fn func(item *T) bool) {
	for i := 0; i < r.count; i++ {
		if !fn(&r.buf[r.index(i)]) {
			return
		}
	}
}

// Slice copies the items into a new slice, newest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// Reset empties the ring and clears references for GC.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.count = 0
}
