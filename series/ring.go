// Package series keeps fixed-depth rolling histories for strategy code.
package series

// Ring is a fixed-capacity history with index 0 the most recent entry.
type Ring[T any] struct {
	buf  []T
	head int // next write position
	n    int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.n }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Replace overwrites the most recent entry. It pushes when the ring is empty.
func (r *Ring[T]) Replace(v T) {
	if r.n == 0 {
		r.Push(v)
		return
	}
	r.buf[(r.head-1+len(r.buf))%len(r.buf)] = v
}

// At returns the i-th most recent entry.
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.n {
		return zero, false
	}
	return r.buf[(r.head-1-i+2*len(r.buf))%len(r.buf)], true
}

// Last returns up to n entries, most recent first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.n {
		n = r.n
	}
	if n < 0 {
		n = 0
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i], _ = r.At(i)
	}
	return out
}

// Grow raises the capacity, keeping every stored entry.
func (r *Ring[T]) Grow(capacity int) {
	if capacity <= len(r.buf) {
		return
	}
	buf := make([]T, capacity)
	for i := 0; i < r.n; i++ {
		buf[r.n-1-i], _ = r.At(i)
	}
	r.buf = buf
	r.head = r.n % capacity
}
