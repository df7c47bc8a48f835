package hazard

import (
	"errors"
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/order"
)

// === Configuration ===

const (
	// SlotsPerThread is the number of hazard slots each registered thread
	// owns. Slot 0 is the primary; slot 1 exists for operations that must
	// pin two nodes at once (a queue head plus its successor, or the
	// previous/current pair of a hand-over-hand chain walk).
	SlotsPerThread = 2

	// DefaultMaxThreads is the registry capacity when Config.MaxThreads
	// is zero.
	DefaultMaxThreads = 100

	// DefaultRetireThreshold is the retired-list length that triggers an
	// inline GC pass when Config.RetireThreshold is zero.
	DefaultRetireThreshold = 1000
)

// ErrRegistryFull is returned by Register when every hazard record is
// already claimed.
var ErrRegistryFull = errors.New("lockless: hazard registry full")

// Config tunes a Registry. The zero value selects the defaults.
type Config struct {
	// MaxThreads caps the number of concurrently registered threads.
	MaxThreads uint32

	// RetireThreshold is the retired-list length at which Retire runs an
	// inline GC pass on the retiring thread.
	RetireThreshold uint32

	// OnGC, when non-nil, is invoked after every GC pass with that pass's
	// statistics. It runs on the thread that triggered the pass and must
	// not call back into the registry.
	OnGC func(GCStats)
}

// === Hazard records ===

// hslot is one publication slot. The active flag is separate from the
// pointer so a scanner never mistakes a stale pointer in an inactive slot
// for protection. Each slot sits on its own cache line: slots are written
// on every container operation by their owner, and sharing a line between
// two threads' slots would turn that into ping-pong.
type hslot struct {
	ptr    order.UnsafePointer
	active order.Uint32
	_pad   [52]byte
}

// hrecord is the per-thread entry in the registry table. claimed is 1
// while a Thread owns the record.
type hrecord struct {
	claimed order.Uint32
	_pad    [60]byte
	slots   [SlotsPerThread]hslot
}

// retiredNode is one entry on the global retired list. The list nodes
// themselves live on the Go heap; only ptr is subject to deferred
// reclamation.
type retiredNode struct {
	ptr  unsafe.Pointer
	free func(unsafe.Pointer)
	next *retiredNode
}

// === Registry ===

// Registry is the shared reclamation domain for a set of containers.
// Containers bound to the same registry may be traversed by the same
// threads; a node retired by any of them is freed only after a scan of
// every slot in the table proves no thread still protects it.
//
// Thread Safety: all methods are safe for concurrent use. Register hands
// out Threads; each Thread is then confined to a single goroutine.
type Registry struct {
	// retired is the Treiber-style list of nodes awaiting reclamation.
	// It is the only cross-thread write hot spot in the registry, so it
	// gets its own cache line.
	retired order.Pointer[retiredNode]
	_pad0   [56]byte

	retiredLen order.Uint32
	_pad1      [60]byte

	records   []hrecord
	threshold uint32
	onGC      func(GCStats)

	// Diagnostics, all maintained with relaxed ordering.
	registered order.Uint32
	gcRuns     order.Uint64
	gcFreed    order.Uint64
	gcRequeued order.Uint64
}

// NewRegistry builds a registry sized by cfg, applying defaults for zero
// fields.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = DefaultMaxThreads
	}
	if cfg.RetireThreshold == 0 {
		cfg.RetireThreshold = DefaultRetireThreshold
	}
	return &Registry{
		records:   make([]hrecord, cfg.MaxThreads),
		threshold: cfg.RetireThreshold,
		onGC:      cfg.OnGC,
	}
}

// MaxThreads reports the registry's record capacity.
func (r *Registry) MaxThreads() uint32 { return uint32(len(r.records)) }

// RetireThreshold reports the retired-list length that triggers inline GC.
func (r *Registry) RetireThreshold() uint32 { return r.threshold }

// Register claims a hazard record and returns the Thread wrapping it, or
// ErrRegistryFull when all records are taken. The returned Thread must be
// used by one goroutine only and released with Unregister.
//
// Flow:
//  1. Scan the table for an unclaimed record (relaxed peek first, so the
//     scan does not fence on every occupied entry)
//  2. Claim it with an acquiring CAS, which also synchronizes with the
//     releasing unclaim of the previous owner so its cleared slots are
//     visible
func (r *Registry) Register() (*Thread, error) {
	for i := range r.records {
		rec := &r.records[i]
		if rec.claimed.Load(order.Relaxed) != 0 {
			continue
		}
		if rec.claimed.CompareAndSwap(0, 1, order.AcqRel, order.Relaxed) {
			r.registered.FetchAdd(1, order.Relaxed)
			return &Thread{reg: r, rec: rec}, nil
		}
	}
	return nil, ErrRegistryFull
}

// Retire queues ptr for deferred reclamation. free is called with ptr by
// some future GC pass once no hazard slot publishes it; it runs on
// whichever thread triggers that pass. Retire itself may run the pass
// inline when the retired list has reached the threshold.
func (r *Registry) Retire(ptr unsafe.Pointer, free func(unsafe.Pointer)) {
	n := &retiredNode{ptr: ptr, free: free}
	for {
		head := r.retired.Load(order.Relaxed)
		n.next = head
		if r.retired.CompareAndSwap(head, n, order.Release, order.Relaxed) {
			break
		}
	}
	if r.retiredLen.FetchAdd(1, order.Relaxed)+1 >= r.threshold {
		r.GC()
	}
}

// GC runs one reclamation pass and reports what it did.
//
// Flow:
//  1. Detach the whole retired list with an atomic swap, so concurrent
//     Retire calls keep appending to a fresh list undisturbed
//  2. For each detached node, scan every slot in the table; a node whose
//     pointer matches any active slot is requeued, all others are handed
//     to their free functions
//
// Multiple GC passes may run concurrently; each owns the sublist it
// detached, so a node is freed exactly once. The scan can only
// over-protect (requeue a node whose protection vanished mid-scan), never
// under-protect: a slot publishing the node was set before the node was
// unlinked, and Retire happens after unlinking.
func (r *Registry) GC() GCStats {
	head := r.retired.Swap(nil, order.AcqRel)
	r.retiredLen.Store(0, order.Relaxed)

	var st GCStats
	for n := head; n != nil; {
		next := n.next
		st.Scanned++
		if r.protected(n.ptr) {
			r.requeue(n)
			st.Requeued++
		} else {
			n.free(n.ptr)
			st.Freed++
		}
		n = next
	}

	r.gcRuns.FetchAdd(1, order.Relaxed)
	r.gcFreed.FetchAdd(st.Freed, order.Relaxed)
	r.gcRequeued.FetchAdd(st.Requeued, order.Relaxed)
	if r.onGC != nil {
		r.onGC(st)
	}
	return st
}

// protected reports whether any active slot in the table publishes p.
func (r *Registry) protected(p unsafe.Pointer) bool {
	for i := range r.records {
		rec := &r.records[i]
		for j := range rec.slots {
			s := &rec.slots[j]
			if s.active.Load(order.Acquire) != 0 && s.ptr.Load(order.Acquire) == p {
				return true
			}
		}
	}
	return false
}

// requeue pushes a still-protected node back onto the retired list.
// Unlike Retire it never re-triggers GC, so a pass that requeues most of
// its list cannot recurse.
func (r *Registry) requeue(n *retiredNode) {
	for {
		head := r.retired.Load(order.Relaxed)
		n.next = head
		if r.retired.CompareAndSwap(head, n, order.Release, order.Relaxed) {
			r.retiredLen.FetchAdd(1, order.Relaxed)
			return
		}
	}
}

// === Statistics ===

// GCStats describes one reclamation pass.
type GCStats struct {
	// Scanned is the number of retired nodes the pass examined.
	Scanned uint64
	// Freed is how many of them were handed to their free functions.
	Freed uint64
	// Requeued is how many were still protected and went back on the list.
	Requeued uint64
}

// Stats is a point-in-time snapshot of registry activity. Counters are
// maintained with relaxed ordering, so a snapshot taken during heavy
// traffic is approximate.
type Stats struct {
	// Threads is the number of currently claimed hazard records.
	Threads uint32
	// Retired is the current length of the retired list.
	Retired uint32
	// GCRuns, Freed, and Requeued accumulate over all GC passes.
	GCRuns   uint64
	Freed    uint64
	Requeued uint64
}

// Stats returns a snapshot of the registry's counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Threads:  r.registered.Load(order.Relaxed),
		Retired:  r.retiredLen.Load(order.Relaxed),
		GCRuns:   r.gcRuns.Load(order.Relaxed),
		Freed:    r.gcFreed.Load(order.Relaxed),
		Requeued: r.gcRequeued.Load(order.Relaxed),
	}
}
