// Package arena provides the pluggable node allocators behind the
// lock-free containers.
//
// An Allocator hands out nodes of one concrete type and tracks each node
// through an explicit lifecycle:
//
//	Alloc  -> live     (linked into a container, reachable by readers)
//	Retire -> retired  (unlinked, still addressable, never recycled)
//	Free   -> free     (contents poisoned, eligible for reuse)
//
// The split between Retire and Free is what makes safe memory reclamation
// observable: a retired node keeps its contents until the hazard-pointer
// registry proves no reader can still hold it, and only then is Free
// called. Exactly one goroutine calls Retire and Free for a given node.
//
// Two sources exist. Heap delegates to the Go allocator, where Retire and
// Free are no-ops and the garbage collector provides the actual reclamation
// backstop. Pool carves nodes out of a fixed slab and recycles them through
// a lock-free free list, which reintroduces the node-reuse hazards that
// hazard pointers guard against, so it doubles as the instrumented
// allocator the reclamation tests run on: every slot carries an
// inspectable State and a generation counter that bumps on each Free.
package arena

import (
	"errors"
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/order"
)

// ErrAllocFailed is returned by container operations when the backing
// allocator cannot produce a node, which for pool sources means every
// slot is live or still awaiting reclamation.
var ErrAllocFailed = errors.New("lockless: node allocation failed")

// === Lifecycle states ===

// State is the lifecycle position of a pool slot.
type State uint32

const (
	// StateFree marks a slot that is on the free list.
	StateFree State = iota
	// StateLive marks a slot handed out by Alloc and not yet retired.
	StateLive
	// StateRetired marks an unlinked slot awaiting reclamation.
	StateRetired
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateLive:
		return "live"
	case StateRetired:
		return "retired"
	default:
		return "state(" + itoa(uint64(s)) + ")"
	}
}

// itoa formats n in base 10 without fmt.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// === Allocator contract ===

// Allocator hands out and reclaims nodes of type N.
//
// Alloc returns a zeroed node, or false when the source is exhausted.
// Retire transitions a node from live to retired; the node stays
// addressable until Free. Free returns the node to the source. Callers
// must not touch a node after Free.
//
// Reclaim is Free with an untyped pointer. The hazard registry's retired
// list carries nodes as unsafe.Pointer and calls Reclaim once a scan
// proves the node unreachable; it must accept exactly the pointers that
// Alloc returned.
type Allocator[N any] interface {
	Alloc() (*N, bool)
	Retire(*N)
	Free(*N)
	Reclaim(unsafe.Pointer)
}

// === Source selection ===

// Source selects an allocation strategy for a container. The two
// implementations are Heap() and Pool(capacity); the interface is sealed
// so containers can rely on exhaustive dispatch.
type Source interface {
	arenaSource()
}

type heapSource struct{}

func (heapSource) arenaSource() {}

type poolSource struct {
	capacity uint32
}

func (poolSource) arenaSource() {}

// Heap returns the source backed by the Go runtime allocator. It never
// exhausts and relies on the garbage collector for reclamation.
func Heap() Source { return heapSource{} }

// Pool returns a source backed by a fixed slab of capacity nodes.
// Allocation fails once all slots are live or retired. A capacity of zero
// yields a source whose allocations always fail.
func Pool(capacity uint32) Source { return poolSource{capacity: capacity} }

// For instantiates the allocator for node type N described by src.
func For[N any](src Source) Allocator[N] {
	switch s := src.(type) {
	case poolSource:
		return NewPoolAllocator[N](s.capacity)
	default:
		return HeapAllocator[N]{}
	}
}

// === Heap allocator ===

// HeapAllocator allocates nodes with new and leaves reclamation to the
// garbage collector. Retire and Free only mark the lifecycle boundary;
// a freed node becomes unreachable garbage once the container drops it.
type HeapAllocator[N any] struct{}

// Alloc returns a zeroed node. It never fails.
func (HeapAllocator[N]) Alloc() (*N, bool) { return new(N), true }

// Retire is a no-op for heap nodes.
func (HeapAllocator[N]) Retire(*N) {}

// Free is a no-op for heap nodes.
func (HeapAllocator[N]) Free(*N) {}

// Reclaim is a no-op for heap nodes. It satisfies the reclaimer contract
// of the hazard registry's retired list.
func (HeapAllocator[N]) Reclaim(unsafe.Pointer) {}

// === Pool allocator ===

// emptyIndex terminates the free list. Valid slot indexes are < capacity.
const emptyIndex = ^uint32(0)

// slotMeta is the per-slot bookkeeping, padded to its own cache line so
// state flips on one slot do not false-share with its neighbors.
type slotMeta struct {
	state order.Uint32
	next  order.Uint32 // free-list link, meaningful only while StateFree
	gen   order.Uint64
	_pad  [48]byte
}

// PoolAllocator serves nodes from a fixed slab through a lock-free LIFO
// free list of slot indexes.
//
// The free-list head packs a 32-bit version with the 32-bit top index in
// one 64-bit cell; every successful push or pop bumps the version, so a
// pop that slept through a full recycle of its observed top fails its
// compare-and-swap instead of corrupting the list.
//
// Thread Safety: Alloc and Free are safe for any number of concurrent
// callers. Retire, State, and Generation touch only the slot owned by the
// caller's node.
type PoolAllocator[N any] struct {
	head order.Uint64 // packed {version:32 | top index:32}
	_pad [56]byte

	slab   []N
	meta   []slotMeta
	base   uintptr
	stride uintptr
	cap    uint32
}

// NewPoolAllocator builds a pool of capacity zeroed slots, all free.
func NewPoolAllocator[N any](capacity uint32) *PoolAllocator[N] {
	p := &PoolAllocator[N]{cap: capacity}
	p.head.Store(pack(0, emptyIndex), order.Relaxed)
	if capacity == 0 {
		return p
	}

	p.slab = make([]N, capacity)
	p.meta = make([]slotMeta, capacity)
	p.base = uintptr(unsafe.Pointer(&p.slab[0]))
	p.stride = unsafe.Sizeof(p.slab[0])

	// Chain every slot onto the free list, slot 0 on top.
	for i := uint32(0); i < capacity; i++ {
		next := i + 1
		if next == capacity {
			next = emptyIndex
		}
		p.meta[i].next.Store(next, order.Relaxed)
	}
	p.head.Store(pack(0, 0), order.Release)
	return p
}

// Alloc pops a slot off the free list and returns it live and zeroed.
// Returns false once every slot is live or retired.
//
// Flow:
//  1. Read the packed head. Top index == emptyIndex means exhausted.
//  2. Read the top slot's free-list link.
//  3. Compare-and-swap the head to {version+1, link}. A lost race means
//     another caller popped or pushed first; retry from step 1.
func (p *PoolAllocator[N]) Alloc() (*N, bool) {
	for {
		head := p.head.Load(order.Acquire)
		idx := unpackIndex(head)
		if idx == emptyIndex {
			return nil, false
		}
		next := p.meta[idx].next.Load(order.Relaxed)
		if p.head.CompareAndSwap(head, pack(unpackVersion(head)+1, next), order.AcqRel, order.Relaxed) {
			p.meta[idx].state.Store(uint32(StateLive), order.Release)
			return &p.slab[idx], true
		}
	}
}

// Retire marks n retired. The slot stays out of the free list and keeps
// its contents until Free.
func (p *PoolAllocator[N]) Retire(n *N) {
	p.meta[p.indexOf(n)].state.Store(uint32(StateRetired), order.Release)
}

// Free poisons n and pushes its slot back onto the free list. The caller
// must be the node's sole owner; no hazard slot may still protect it.
//
// Poisoning zeroes the slot bytes and bumps the generation counter, so a
// stale reader that slipped past reclamation observes torn contents and a
// changed generation instead of silently reading recycled data.
func (p *PoolAllocator[N]) Free(n *N) {
	idx := p.indexOf(n)
	m := &p.meta[idx]

	clear(unsafe.Slice((*byte)(unsafe.Pointer(n)), p.stride))
	m.gen.FetchAdd(1, order.Relaxed)
	m.state.Store(uint32(StateFree), order.Release)

	for {
		head := p.head.Load(order.Relaxed)
		m.next.Store(unpackIndex(head), order.Relaxed)
		if p.head.CompareAndSwap(head, pack(unpackVersion(head)+1, idx), order.Release, order.Relaxed) {
			return
		}
	}
}

// Reclaim frees the node behind ptr. It satisfies the reclaimer contract
// of the hazard registry's retired list.
func (p *PoolAllocator[N]) Reclaim(ptr unsafe.Pointer) {
	p.Free((*N)(ptr))
}

// State reports the lifecycle state of n's slot.
func (p *PoolAllocator[N]) State(n *N) State {
	return State(p.meta[p.indexOf(n)].state.Load(order.Acquire))
}

// Generation reports how many times n's slot has been freed.
func (p *PoolAllocator[N]) Generation(n *N) uint64 {
	return p.meta[p.indexOf(n)].gen.Load(order.Acquire)
}

// Capacity reports the fixed slot count.
func (p *PoolAllocator[N]) Capacity() uint32 { return p.cap }

// indexOf maps a slab pointer back to its slot index.
func (p *PoolAllocator[N]) indexOf(n *N) uint32 {
	return uint32((uintptr(unsafe.Pointer(n)) - p.base) / p.stride)
}

// === Packed free-list head ===

//go:nosplit
func pack(version, index uint32) uint64 {
	return uint64(version)<<32 | uint64(index)
}

//go:nosplit
func unpackVersion(packed uint64) uint32 {
	return uint32(packed >> 32)
}

//go:nosplit
func unpackIndex(packed uint64) uint32 {
	return uint32(packed)
}
