// Package ring implements a bounded lock-free multi-producer
// multi-consumer ring buffer.
//
// Positions are monotonic uint64 counters that are never reduced modulo
// capacity: an element's slot is position mod N, and the lap it belongs
// to stays encoded in the position itself. Each slot carries a sequence
// cell in the Vyukov bounded-MPMC style stating which position the slot
// currently serves:
//
//	seq == pos      vacant, awaiting the producer of position pos
//	seq == pos+1    holding the element of position pos
//	seq == pos+N    vacant again, awaiting the producer of pos+N
//
// A producer claims a position by advancing the tail with CAS, writes
// the element, then publishes it by storing seq = pos+1. A consumer
// claims a position by advancing the head, reads the element out, then
// releases the slot to the next lap by storing seq = pos+N. A claim is
// valid only against the slot's current lap, so an operation acting on
// a stale position snapshot cannot install into or steal from a slot
// the window has already recycled.
//
// The sequence cell, not the element, is what separates present from
// absent, so the zero value of T round-trips like any other element.
// Elements live inline in the slots: operations never allocate, nothing
// shared is ever freed, and the ring therefore needs neither an arena
// nor hazard pointers.
//
// One slot's worth of capacity stays reserved: a ring of capacity N
// holds at most N-1 elements. Consumers take positions strictly in
// order, so until a mid-flight enqueue publishes, Dequeue reports empty
// at its position rather than skip ahead.
package ring

import (
	"errors"

	"github.com/kolkov/lockless/internal/lockfree/order"
)

var (
	// ErrFull is returned by Enqueue when the ring holds capacity-1
	// elements.
	ErrFull = errors.New("lockless: ring buffer full")

	// ErrCapacity is returned by New for capacities below 2, which
	// cannot hold a single element once the vacant slot is reserved.
	ErrCapacity = errors.New("lockless: ring capacity must be at least 2")
)

// slot pairs an element with the sequence cell tracking which position
// it serves. val is touched only by the position's current owner: the
// producer between claim and publishing store, the consumer between
// claim and releasing store.
type slot[T any] struct {
	seq order.Uint64
	val T
}

// Ring is a bounded lock-free MPMC buffer. Construct with New; the zero
// value is not usable.
type Ring[T any] struct {
	head  order.Uint64
	_pad0 [56]byte

	tail  order.Uint64
	_pad1 [56]byte

	slots []slot[T]
	cap   uint64
}

// New builds a ring with capacity slots, of which capacity-1 are usable.
func New[T any](capacity uint32) (*Ring[T], error) {
	if capacity < 2 {
		return nil, ErrCapacity
	}
	r := &Ring[T]{
		slots: make([]slot[T], capacity),
		cap:   uint64(capacity),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i), order.Relaxed)
	}
	return r, nil
}

// Enqueue appends v, or returns ErrFull when capacity-1 elements are
// resident.
//
// Flow:
//  1. Read the tail position; tail minus head at capacity-1 means full
//  2. Read the position's slot sequence. seq == pos means the slot is
//     vacant on this lap: claim the position by CASing the tail forward.
//     The claim fixes the element's place in the FIFO order
//  3. Write the element into the claimed slot, then publish it with
//     seq = pos+1
//  4. seq behind pos means the previous lap's element has not finished
//     leaving the slot: report full. seq ahead of pos, or a lost claim,
//     means another producer took the position: reload and retry
func (r *Ring[T]) Enqueue(v T) error {
	for {
		pos := r.tail.Load(order.Relaxed)
		// head only grows, so a stale read over-counts residency and
		// the bound holds regardless.
		if pos-r.head.Load(order.Relaxed) >= r.cap-1 {
			return ErrFull
		}
		s := &r.slots[pos%r.cap]
		seq := s.seq.Load(order.Acquire)
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1, order.Relaxed, order.Relaxed) {
				s.val = v
				s.seq.Store(pos+1, order.Release)
				return nil
			}
		case dif < 0:
			return ErrFull
		}
	}
}

// Dequeue removes and returns the oldest element, or the zero value and
// false when the ring is empty.
//
// Flow:
//  1. Read the head position and its slot sequence. seq == pos+1 means
//     the slot holds this position's element: claim it by CASing the
//     head forward
//  2. Read the element out, clear the slot so no reference lingers, and
//     release it to the producer N positions ahead with seq = pos+N
//  3. seq behind pos+1 means the position's producer has not published
//     yet: report empty. seq ahead, or a lost claim, means another
//     consumer took the position: reload and retry
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	for {
		pos := r.head.Load(order.Relaxed)
		s := &r.slots[pos%r.cap]
		seq := s.seq.Load(order.Acquire)
		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1, order.Relaxed, order.Relaxed) {
				v := s.val
				s.val = zero
				s.seq.Store(pos+r.cap, order.Release)
				return v, true
			}
		case dif < 0:
			return zero, false
		}
	}
}

// Size reports the resident element count, a snapshot that in-flight
// operations may already have outdated. The head is read first: both
// counters only grow, so the difference cannot go negative, and the
// clamp covers tail movement after the head snapshot.
func (r *Ring[T]) Size() int {
	head := r.head.Load(order.Acquire)
	tail := r.tail.Load(order.Relaxed)
	n := tail - head
	if n > r.cap-1 {
		n = r.cap - 1
	}
	return int(n)
}

// Capacity reports the constructed slot count. At most Capacity()-1
// elements are resident at once.
func (r *Ring[T]) Capacity() uint32 { return uint32(r.cap) }
