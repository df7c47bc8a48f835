// Package stack implements a lock-free LIFO stack.
//
// The structure is Treiber's classic CAS-on-top stack (IBM RJ 5118,
// 1986). Treiber's algorithm is trivially correct under garbage
// collection but notoriously ABA-prone with manual reclamation: a popper
// that read top A and successor B must not install B after A was popped,
// recycled, and re-pushed with a different successor. The hazard pin
// taken on A closes exactly that window, because a pinned node cannot
// leave the reclamation pipeline and so can never be re-issued by the
// allocator while the pop is in flight.
package stack

import (
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/arena"
	"github.com/kolkov/lockless/internal/lockfree/hazard"
	"github.com/kolkov/lockless/internal/lockfree/order"
)

// node is one stack link. value and next are written by the pusher
// before the node is published and are immutable while linked.
type node[T any] struct {
	value T
	next  order.Pointer[node[T]]
}

// Stack is a lock-free LIFO. The zero value is not usable; construct
// with New.
type Stack[T any] struct {
	top   order.Pointer[node[T]]
	_pad0 [56]byte

	size  order.Uint64
	_pad1 [56]byte

	alloc   arena.Allocator[node[T]]
	reclaim func(unsafe.Pointer)
	reg     *hazard.Registry
}

// New builds an empty stack whose nodes come from src and whose popped
// nodes drain through reg. Unlike the queue there is no dummy node to
// allocate, so construction cannot fail.
func New[T any](reg *hazard.Registry, src arena.Source) *Stack[T] {
	alloc := arena.For[node[T]](src)
	return &Stack[T]{
		alloc:   alloc,
		reclaim: alloc.Reclaim,
		reg:     reg,
	}
}

// Push places v on top. It returns arena.ErrAllocFailed when the node
// source is exhausted.
//
// Push never dereferences the old top, only re-points it, so it needs no
// hazard slot and no revalidation: the relaxed read is enough because the
// publishing CAS carries release ordering and every later CAS on top
// extends its release sequence.
func (s *Stack[T]) Push(v T) error {
	n, ok := s.alloc.Alloc()
	if !ok {
		return arena.ErrAllocFailed
	}
	n.value = v

	for {
		top := s.top.Load(order.Relaxed)
		n.next.Store(top, order.Relaxed)
		if s.top.CompareAndSwap(top, n, order.Release, order.Relaxed) {
			s.size.FetchAdd(1, order.Relaxed)
			return nil
		}
	}
}

// Pop removes and returns the newest element, or the zero value and
// false when the stack is empty.
//
// Flow:
//  1. Pin the top through slot 0; nil means empty
//  2. Read its successor. The pin makes this safe: the node cannot have
//     been handed back to the allocator, so the successor field is
//     either still current or belongs to a top that the CAS below will
//     reject
//  3. Swing top to the successor. Winning the CAS proves the top never
//     changed since the pin, which rules out the ABA re-push, and makes
//     this thread the node's sole owner
func (s *Stack[T]) Pop(t *hazard.Thread) (T, bool) {
	var zero T
	for {
		top := hazard.Protect(t, 0, &s.top)
		if top == nil {
			t.Clear(0)
			return zero, false
		}
		next := top.next.Load(order.Relaxed)
		if s.top.CompareAndSwap(top, next, order.Release, order.Relaxed) {
			v := top.value
			s.size.FetchSub(1, order.Relaxed)
			t.Clear(0)
			s.alloc.Retire(top)
			t.Retire(unsafe.Pointer(top), s.reclaim)
			return v, true
		}
	}
}

// Size reports the element count. The counter trails the top pointer by
// in-flight operations; a transient negative reading clamps to zero.
func (s *Stack[T]) Size() int {
	n := int64(s.size.Load(order.Relaxed))
	if n < 0 {
		return 0
	}
	return int(n)
}

// Destroy frees every linked node. The caller must guarantee quiescence:
// no concurrent operations and no thread holding a pin into this stack.
// Nodes already retired to the registry are freed by registry GC passes
// instead. The stack is unusable afterwards.
func (s *Stack[T]) Destroy() {
	n := s.top.Swap(nil, order.AcqRel)
	for n != nil {
		next := n.next.Load(order.Relaxed)
		s.alloc.Free(n)
		n = next
	}
	s.size.Store(0, order.Relaxed)
}
