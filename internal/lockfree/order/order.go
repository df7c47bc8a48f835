// Package order implements the explicit memory-ordering primitives layer
// that every container in this library is built on.
//
// A cell (Uint32, Uint64, Pointer, UnsafePointer) is a memory location that
// is accessed ONLY through the operations below, never through ordinary
// reads or writes. Every operation takes an Ordering argument stating the
// weakest memory ordering the call site is correct under:
//
//   - A load tagged Acquire or stronger orders its barrier AFTER the read:
//     no later access may be reordered before it.
//   - A store tagged Release or stronger orders its barrier BEFORE the
//     write: no earlier access may be reordered after it.
//   - SeqCst operations additionally participate in the single global
//     total order of all sequentially consistent operations.
//   - Consume is accepted for compatibility and treated as Relaxed on the
//     load path (data-dependency ordering is implicit on every
//     architecture Go targets).
//
// Go mapping: all cells delegate to sync/atomic, whose operations are
// sequentially consistent. A stronger ordering than requested is always
// permitted (the contract states minimums, not exact fence placement), so
// the delegation is correct for every Ordering value. The argument is not
// decorative: it records the algorithm's actual requirement at each call
// site and selects the CAS orderings inside FetchAdd/FetchSub.
//
// FetchAdd and FetchSub are deliberately NOT delegated to the native
// atomic add. They are a retry loop (relaxed read, compute, CAS with the
// caller's ordering on success and Relaxed on failure) that returns the
// pre-update value. This loop is the only place in the layer where
// contention causes retries.
//
// CAS failure orderings must not be Release or AcqRel (a failed CAS
// performs no write to order). This is a documented contract, not a
// runtime check.
package order

import (
	"sync/atomic"
	"unsafe"
)

// Ordering is a memory-ordering constraint, ascending in strength.
// The numeric order matters: strength comparisons use >=.
type Ordering uint8

const (
	// Relaxed imposes no ordering constraints beyond atomicity.
	Relaxed Ordering = iota

	// Consume orders dependent loads; treated as Relaxed here.
	Consume

	// Acquire prevents later accesses from moving before the load.
	Acquire

	// Release prevents earlier accesses from moving after the store.
	Release

	// AcqRel combines Acquire and Release (for read-modify-write ops).
	AcqRel

	// SeqCst adds a single total order over all SeqCst operations.
	SeqCst
)

// String returns the ordering name for diagnostics and test output.
// Not used on hot paths.
func (o Ordering) String() string {
	switch o {
	case Relaxed:
		return "relaxed"
	case Consume:
		return "consume"
	case Acquire:
		return "acquire"
	case Release:
		return "release"
	case AcqRel:
		return "acq_rel"
	case SeqCst:
		return "seq_cst"
	default:
		return "ordering(" + itoa(uint64(o)) + ")"
	}
}

// itoa converts an integer to string without fmt import.
// Diagnostics only.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf)
}

// === Uint32 ===

// Uint32 is a 32-bit atomic cell.
//
// The zero value is a cell holding 0, ready to use.
type Uint32 struct {
	v atomic.Uint32
}

// Load atomically reads the cell.
//
//go:nosplit
func (c *Uint32) Load(_ Ordering) uint32 {
	return c.v.Load()
}

// Store atomically writes the cell.
//
//go:nosplit
func (c *Uint32) Store(val uint32, _ Ordering) {
	c.v.Store(val)
}

// Swap atomically exchanges the cell's value, returning the old value.
//
//go:nosplit
func (c *Uint32) Swap(val uint32, _ Ordering) uint32 {
	return c.v.Swap(val)
}

// CompareAndSwap atomically replaces old with new if the cell holds old.
// success applies when the swap happens, failure when it does not.
//
//go:nosplit
func (c *Uint32) CompareAndSwap(old, new uint32, _, _ Ordering) bool {
	return c.v.CompareAndSwap(old, new)
}

// FetchAdd atomically adds delta and returns the PRE-update value.
//
// Implemented as the canonical retry loop: read the current value with
// Relaxed ordering, compute, attempt the CAS with the caller's ordering on
// success and Relaxed on failure, retry until the CAS wins. A retry means
// another operation succeeded in the meantime, so the loop is lock-free.
func (c *Uint32) FetchAdd(delta uint32, o Ordering) uint32 {
	for {
		old := c.Load(Relaxed)
		if c.CompareAndSwap(old, old+delta, o, Relaxed) {
			return old
		}
	}
}

// FetchSub atomically subtracts delta and returns the PRE-update value.
// Same loop discipline as FetchAdd.
func (c *Uint32) FetchSub(delta uint32, o Ordering) uint32 {
	for {
		old := c.Load(Relaxed)
		if c.CompareAndSwap(old, old-delta, o, Relaxed) {
			return old
		}
	}
}

// === Uint64 ===

// Uint64 is a 64-bit atomic cell.
//
// The zero value is a cell holding 0, ready to use. Used for container
// size counters and ring indices.
type Uint64 struct {
	v atomic.Uint64
}

// Load atomically reads the cell.
//
//go:nosplit
func (c *Uint64) Load(_ Ordering) uint64 {
	return c.v.Load()
}

// Store atomically writes the cell.
//
//go:nosplit
func (c *Uint64) Store(val uint64, _ Ordering) {
	c.v.Store(val)
}

// Swap atomically exchanges the cell's value, returning the old value.
//
//go:nosplit
func (c *Uint64) Swap(val uint64, _ Ordering) uint64 {
	return c.v.Swap(val)
}

// CompareAndSwap atomically replaces old with new if the cell holds old.
//
//go:nosplit
func (c *Uint64) CompareAndSwap(old, new uint64, _, _ Ordering) bool {
	return c.v.CompareAndSwap(old, new)
}

// FetchAdd atomically adds delta and returns the PRE-update value.
// See Uint32.FetchAdd for the loop contract.
func (c *Uint64) FetchAdd(delta uint64, o Ordering) uint64 {
	for {
		old := c.Load(Relaxed)
		if c.CompareAndSwap(old, old+delta, o, Relaxed) {
			return old
		}
	}
}

// FetchSub atomically subtracts delta and returns the PRE-update value.
func (c *Uint64) FetchSub(delta uint64, o Ordering) uint64 {
	for {
		old := c.Load(Relaxed)
		if c.CompareAndSwap(old, old-delta, o, Relaxed) {
			return old
		}
	}
}

// === Pointer[T] ===

// Pointer is a typed atomic pointer cell. Container links (queue head and
// tail, stack top, chain successors, bucket heads) are Pointer cells.
//
// The zero value holds nil.
type Pointer[T any] struct {
	v atomic.Pointer[T]
}

// Load atomically reads the cell.
func (c *Pointer[T]) Load(_ Ordering) *T {
	return c.v.Load()
}

// Store atomically writes the cell.
func (c *Pointer[T]) Store(val *T, _ Ordering) {
	c.v.Store(val)
}

// Swap atomically exchanges the cell's value, returning the old value.
func (c *Pointer[T]) Swap(val *T, _ Ordering) *T {
	return c.v.Swap(val)
}

// CompareAndSwap atomically replaces old with new if the cell holds old.
func (c *Pointer[T]) CompareAndSwap(old, new *T, _, _ Ordering) bool {
	return c.v.CompareAndSwap(old, new)
}

// === UnsafePointer ===

// UnsafePointer is an untyped atomic pointer cell. Hazard slots and the
// retired list hold pointers of mixed node types, so they use this cell.
//
// unsafe.Pointer (unlike uintptr) is visible to the garbage collector, so
// a pointer parked in an UnsafePointer cell keeps its target reachable.
type UnsafePointer struct {
	v unsafe.Pointer
}

// Load atomically reads the cell.
//
//go:nosplit
func (c *UnsafePointer) Load(_ Ordering) unsafe.Pointer {
	return atomic.LoadPointer(&c.v)
}

// Store atomically writes the cell.
//
//go:nosplit
func (c *UnsafePointer) Store(val unsafe.Pointer, _ Ordering) {
	atomic.StorePointer(&c.v, val)
}

// Swap atomically exchanges the cell's value, returning the old value.
//
//go:nosplit
func (c *UnsafePointer) Swap(val unsafe.Pointer, _ Ordering) unsafe.Pointer {
	return atomic.SwapPointer(&c.v, val)
}

// CompareAndSwap atomically replaces old with new if the cell holds old.
//
//go:nosplit
func (c *UnsafePointer) CompareAndSwap(old, new unsafe.Pointer, _, _ Ordering) bool {
	return atomic.CompareAndSwapPointer(&c.v, old, new)
}
