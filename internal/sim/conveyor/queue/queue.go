// Package queue implements the growable ring buffer used for belt lanes.
//
// Indexing follows the power-of-two mask scheme: capacity is always a power of
// two, so logical offsets map to slots with (head+i)&mask and never divide.
package queue

import "errors"

// ErrEmptyQueue is returned by Dequeue on an empty queue. Callers are expected to
// check Len first; seeing this error means a caller bug.
var ErrEmptyQueue = errors.New("queue: empty")

const minCapacity = 4

// Queue is a FIFO with O(1) indexed access from either end.
// The zero value is ready to use.
type Queue[T any] struct {
	buf  []T
	head int
	n    int
}

func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{}
	if capacity > 0 {
		q.buf = make([]T, roundUp(capacity))
	}
	return q
}

func (q *Queue[T]) Len() int { return q.n }

func (q *Queue[T]) Cap() int { return len(q.buf) }

func (q *Queue[T]) mask() int { return len(q.buf) - 1 }

// Enqueue appends v at the logical tail.
func (q *Queue[T]) Enqueue(v T) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)&q.mask()] = v
	q.n++
}

// Dequeue removes and returns the logical head.
func (q *Queue[T]) Dequeue() (T, error) {
	var zero T
	if q.n == 0 {
		return zero, ErrEmptyQueue
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) & q.mask()
	q.n--
	return v, nil
}

// PeekAt returns a pointer to the element offset slots behind the head.
// The pointer is valid until the next Enqueue.
func (q *Queue[T]) PeekAt(offset int) *T {
	if offset < 0 || offset >= q.n {
		return nil
	}
	return &q.buf[(q.head+offset)&q.mask()]
}

// PeekFromTail is PeekAt counted from the tail (0 = last element).
func (q *Queue[T]) PeekFromTail(offset int) *T {
	return q.PeekAt(q.n - 1 - offset)
}

func (q *Queue[T]) Head() *T { return q.PeekAt(0) }

func (q *Queue[T]) Tail() *T { return q.PeekFromTail(0) }

// Each visits elements head to tail with mutable access. Returning false stops the scan.
func (q *Queue[T]) Each(fn func(i int, v *T) bool) {
	for i := 0; i < q.n; i++ {
		if !fn(i, &q.buf[(q.head+i)&q.mask()]) {
			return
		}
	}
}

// Drain dequeues every element head to tail, handing each to fn.
func (q *Queue[T]) Drain(fn func(v T)) {
	for q.n > 0 {
		v, _ := q.Dequeue()
		if fn != nil {
			fn(v)
		}
	}
}

// Slice copies the contents head to tail.
func (q *Queue[T]) Slice() []T {
	out := make([]T, 0, q.n)
	q.Each(func(_ int, v *T) bool {
		out = append(out, *v)
		return true
	})
	return out
}

func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if size < minCapacity {
		size = minCapacity
	}
	nb := make([]T, size)
	for i := 0; i < q.n; i++ {
		nb[i] = q.buf[(q.head+i)&q.mask()]
	}
	q.buf = nb
	q.head = 0
}

func roundUp(n int) int {
	size := minCapacity
	for size < n {
		size <<= 1
	}
	return size
}
