// Package queue provides a bounded single-producer/single-consumer ring
// buffer used to hand events from interrupt context to the polling loop.
package queue

import "sync/atomic"

// Ring is a fixed size FIFO. One slot is always kept free so that full and
// empty can be told apart from the head and tail indexes alone; a ring
// declared with size n holds at most n-1 elements.
//
// Push must only be called by one producer and Pop by one consumer. Neither
// ever blocks.
type Ring[T any] struct {
	buf  []T
	head atomic.Uint32 // next slot to write, owned by the producer
	tail atomic.Uint32 // next slot to read, owned by the consumer
}

// New returns a ring declared with size slots. Sizes below 2 are raised to 2.
func New[T any](size int) *Ring[T] {
	if size < 2 {
		size = 2
	}
	return &Ring[T]{buf: make([]T, size)}
}

func (r *Ring[T]) next(i uint32) uint32 {
	i++
	if i >= uint32(len(r.buf)) {
		return 0
	}
	return i
}

// Cap returns the number of elements the ring can hold.
func (r *Ring[T]) Cap() int {
	return len(r.buf) - 1
}

// Len returns the number of elements waiting to be popped.
func (r *Ring[T]) Len() int {
	h, t := r.head.Load(), r.tail.Load()
	if h >= t {
		return int(h - t)
	}
	return len(r.buf) - int(t) + int(h)
}

// Push appends v and reports whether it was stored. A full ring drops v.
func (r *Ring[T]) Push(v T) bool {
	h := r.head.Load()
	n := r.next(h)
	if n == r.tail.Load() {
		return false
	}
	r.buf[h] = v
	r.head.Store(n)
	return true
}

// Pop removes the oldest element. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	t := r.tail.Load()
	if t == r.head.Load() {
		return v, false
	}
	v = r.buf[t]
	var zero T
	r.buf[t] = zero
	r.tail.Store(r.next(t))
	return v, true
}
