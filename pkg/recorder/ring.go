package recorder

// ring is a bounded FIFO buffer. Once full, each push overwrites the oldest
// element.
type ring[T any] struct {
	buf   []T
	size  int
	start int
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{size: size}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) < r.size {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.size
}

func (r *ring[T]) len() int {
	return len(r.buf)
}

// slice returns a copy of the contents, oldest first.
func (r *ring[T]) slice() []T {
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	out = append(out, r.buf[:r.start]...)
	return out
}
