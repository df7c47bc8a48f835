package hazard

import (
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/order"
)

// Thread is one goroutine's claimed hazard record. All methods except
// Unregister assume the claim is still held; using a Thread after
// Unregister, or from two goroutines at once, corrupts the protocol.
type Thread struct {
	reg *Registry
	rec *hrecord
}

// Protect pins the node currently referenced by cell into slot and
// returns it. The returned pointer (nil included) is safe to dereference
// until the slot is cleared or overwritten: once the validating re-read
// succeeds, any retirement of the node must have happened after the slot
// was published, so every subsequent GC scan sees it.
//
// Flow:
//  1. Load the candidate from cell
//  2. Publish it into the slot (pointer first, then the active flag)
//  3. Re-read cell; a changed cell means the candidate may already have
//     been unlinked and retired before the slot was visible, so loop
//
// Performance: zero allocations; one extra validating load per iteration,
// and iterations repeat only while the cell is being rewritten underfoot.
//
//go:nosplit
func Protect[T any](t *Thread, slot int, cell *order.Pointer[T]) *T {
	s := &t.rec.slots[slot]
	for {
		p := cell.Load(order.Acquire)
		s.ptr.Store(unsafe.Pointer(p), order.Release)
		s.active.Store(1, order.Release)
		if cell.Load(order.Acquire) == p {
			return p
		}
	}
}

// Publish pins p into slot without validation. Callers use it when the
// pointer was not read from a single shared cell that could be re-checked
// (a successor loaded from an already-protected node, for instance) and
// take on the re-validation themselves.
//
//go:nosplit
func Publish[T any](t *Thread, slot int, p *T) {
	s := &t.rec.slots[slot]
	s.ptr.Store(unsafe.Pointer(p), order.Release)
	s.active.Store(1, order.Release)
}

// Clear drops the protection in slot. The owning thread must not
// dereference the previously pinned node afterwards.
//
//go:nosplit
func (t *Thread) Clear(slot int) {
	s := &t.rec.slots[slot]
	s.active.Store(0, order.Release)
	s.ptr.Store(nil, order.Release)
}

// Retire queues ptr on the owning registry's retired list. It is
// shorthand for Registry.Retire and may run a GC pass inline.
func (t *Thread) Retire(ptr unsafe.Pointer, free func(unsafe.Pointer)) {
	t.reg.Retire(ptr, free)
}

// Registry returns the registry this thread is claimed from.
func (t *Thread) Registry() *Registry { return t.reg }

// Unregister clears the thread's slots and releases its record for
// another goroutine to claim. It is idempotent; every other method is
// invalid after it returns.
func (t *Thread) Unregister() {
	rec := t.rec
	if rec == nil {
		return
	}
	t.rec = nil
	for i := range rec.slots {
		s := &rec.slots[i]
		s.active.Store(0, order.Relaxed)
		s.ptr.Store(nil, order.Relaxed)
	}
	t.reg.registered.FetchSub(1, order.Relaxed)
	rec.claimed.Store(0, order.Release)
}
