// Package queue provides the concurrent FIFO used by stream pools to recycle
// raw buffer memory between allocating and releasing goroutines.
package queue

import "sync/atomic"

// value is cleared once the node becomes the sentinel, so dequeued items are
// not kept reachable by the queue.
type node[T any] struct {
	value atomic.Pointer[T]
	next  atomic.Pointer[node[T]]
}

// LockFree is a lock-free, unbounded, multi-producer multi-consumer FIFO
// (Michael-Scott queue).
//
// The zero value is not usable; create instances with NewLockFree.
type LockFree[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int64
}

// NewLockFree creates an empty queue.
func NewLockFree[T any]() *LockFree[T] {
	q := &LockFree[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Enqueue adds an item to the tail of the queue.
func (q *LockFree[T]) Enqueue(item T) {
	n := &node[T]{}
	n.value.Store(&item)
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// tail is falling behind, help it forward
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the item at the head of the queue.
// ok is false when the queue is empty.
func (q *LockFree[T]) Dequeue() (item T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return item, false
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		// read value before CAS, another dequeue may advance past next
		value := next.value.Load()
		if value == nil {
			continue
		}
		if q.head.CompareAndSwap(head, next) {
			next.value.Store(nil)
			q.length.Add(-1)
			return *value, true
		}
	}
}

// Len returns the number of queued items. The value is a snapshot under concurrency.
func (q *LockFree[T]) Len() int {
	return int(q.length.Load())
}

// IsEmpty returns true if the queue is empty.
func (q *LockFree[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes every queued item.
func (q *LockFree[T]) Drain() int {
	count := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			return count
		}
		count++
	}
}
