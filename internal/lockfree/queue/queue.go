// Package queue implements a lock-free multi-producer multi-consumer
// FIFO queue.
//
// The algorithm is the classic two-pointer linked queue of Michael and
// Scott (PODC 1996), layered on the hazard-pointer discipline from the
// hazard package: a dummy node decouples head from tail, a lagging tail
// is helped forward by whichever thread notices it, and dequeued nodes
// go through Retire rather than being freed in place, so concurrent
// readers never dereference recycled memory.
//
// Every operation is lock-free: a stalled thread can delay its own
// progress but never blocks the queue, because any CAS it leaves half
// finished (a linked node with a stale tail) is completed by the next
// arrival.
package queue

import (
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/arena"
	"github.com/kolkov/lockless/internal/lockfree/hazard"
	"github.com/kolkov/lockless/internal/lockfree/order"
)

// node is one queue link. value is written once by the enqueuer before
// the node is published and is immutable afterwards.
type node[T any] struct {
	value T
	next  order.Pointer[node[T]]
}

// Queue is a lock-free FIFO. The head always points at a dummy node;
// the element sequence is the chain hanging off it. head and tail are
// the two contended cells, so each gets its own cache line.
type Queue[T any] struct {
	head  order.Pointer[node[T]]
	_pad0 [56]byte

	tail  order.Pointer[node[T]]
	_pad1 [56]byte

	size  order.Uint64
	_pad2 [56]byte

	alloc   arena.Allocator[node[T]]
	reclaim func(unsafe.Pointer)
	reg     *hazard.Registry
}

// New builds an empty queue whose nodes come from src and whose retired
// nodes drain through reg. It fails with arena.ErrAllocFailed when the
// source cannot produce the initial dummy node.
func New[T any](reg *hazard.Registry, src arena.Source) (*Queue[T], error) {
	alloc := arena.For[node[T]](src)
	dummy, ok := alloc.Alloc()
	if !ok {
		return nil, arena.ErrAllocFailed
	}
	q := &Queue[T]{
		alloc:   alloc,
		reclaim: alloc.Reclaim,
		reg:     reg,
	}
	q.head.Store(dummy, order.Relaxed)
	q.tail.Store(dummy, order.Relaxed)
	return q, nil
}

// Enqueue appends v. It returns arena.ErrAllocFailed when the node
// source is exhausted; the queue itself never rejects an element.
//
// Flow:
//  1. Allocate and fill the node before touching shared state
//  2. Pin the tail (it may be the dummy a concurrent dequeue is about
//     to retire) and re-check it is still the tail
//  3. Tail with a successor is lagging: help swing it forward and retry
//  4. Link the node with a CAS on tail.next, the linearization point,
//     then swing the tail; losing that second CAS just means someone
//     helped first
//
// Performance: one allocation per call, no further allocations; the
// loop retries only under contention on the same tail.
func (q *Queue[T]) Enqueue(t *hazard.Thread, v T) error {
	n, ok := q.alloc.Alloc()
	if !ok {
		return arena.ErrAllocFailed
	}
	n.value = v
	n.next.Store(nil, order.Relaxed)

	for {
		tail := hazard.Protect(t, 0, &q.tail)
		next := tail.next.Load(order.Acquire)
		if q.tail.Load(order.Acquire) != tail {
			continue
		}
		if next != nil {
			q.tail.CompareAndSwap(tail, next, order.Release, order.Relaxed)
			continue
		}
		if tail.next.CompareAndSwap(nil, n, order.Release, order.Relaxed) {
			q.tail.CompareAndSwap(tail, n, order.Release, order.Relaxed)
			t.Clear(0)
			q.size.FetchAdd(1, order.Relaxed)
			return nil
		}
	}
}

// Dequeue removes and returns the oldest element, or the zero value and
// false when the queue is empty.
//
// Flow:
//  1. Pin the dummy through slot 0; its successor is the front element
//  2. No successor means empty
//  3. Pin the successor through slot 1, then re-check the head: if it
//     moved, the pin may have raced a retirement, so start over
//  4. If the tail still points at the dummy it is lagging; help it
//     forward first so the head never overtakes it
//  5. Copy the payload while both pins hold, then swing the head. The
//     winner owns the old dummy and retires it; the successor is the
//     new dummy
//
// The payload copy happens before the head CAS: after the CAS the old
// front node is the new dummy and some later dequeue may retire it, and
// only the slot-1 pin taken here keeps that retirement from recycling
// the bytes mid-copy.
func (q *Queue[T]) Dequeue(t *hazard.Thread) (T, bool) {
	var zero T
	for {
		head := hazard.Protect(t, 0, &q.head)
		next := head.next.Load(order.Acquire)
		if next == nil {
			// The dummy has no successor. The chain is the sole element
			// sequence, so the queue is empty.
			t.Clear(0)
			return zero, false
		}

		hazard.Publish(t, 1, next)
		if q.head.Load(order.Acquire) != head {
			continue
		}

		if tail := q.tail.Load(order.Acquire); tail == head {
			q.tail.CompareAndSwap(tail, next, order.Release, order.Relaxed)
			continue
		}

		v := next.value
		if q.head.CompareAndSwap(head, next, order.Release, order.Relaxed) {
			q.size.FetchSub(1, order.Relaxed)
			t.Clear(1)
			t.Clear(0)
			q.alloc.Retire(head)
			t.Retire(unsafe.Pointer(head), q.reclaim)
			return v, true
		}
	}
}

// Size reports the element count. Enqueue and dequeue update the counter
// after their linearization points, so under concurrency the value is a
// snapshot that may trail the chain by in-flight operations; a transient
// negative reading clamps to zero.
func (q *Queue[T]) Size() int {
	n := int64(q.size.Load(order.Relaxed))
	if n < 0 {
		return 0
	}
	return int(n)
}

// Destroy frees the dummy and every queued node. The caller must
// guarantee quiescence: no concurrent operations, and no thread holding
// a pin into this queue. Nodes already retired to the registry are not
// touched; registry GC passes free those. The queue is unusable
// afterwards.
func (q *Queue[T]) Destroy() {
	n := q.head.Swap(nil, order.AcqRel)
	q.tail.Store(nil, order.Release)
	for n != nil {
		next := n.next.Load(order.Relaxed)
		q.alloc.Free(n)
		n = next
	}
	q.size.Store(0, order.Relaxed)
}
