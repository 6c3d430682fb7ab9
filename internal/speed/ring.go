package speed

// ring is a fixed-capacity FIFO that overwrites its oldest element.
type ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v and returns the evicted element, if any.
func (r *ring[T]) push(v T) (evicted T, ok bool) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return evicted, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// at returns the i-th element counting from the oldest.
func (r *ring[T]) at(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring[T]) len() int { return r.size }
