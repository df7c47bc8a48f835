// Package lockfree provides lock-free concurrent containers built on
// hazard-pointer memory reclamation.
//
// The package bundles four structures (a Michael-Scott FIFO queue, a
// Treiber LIFO stack, a bounded MPMC ring buffer, and a chained hash
// table) sharing one reclamation Registry, one pluggable node arena,
// and one explicit memory-ordering vocabulary.
//
// # Quick Start
//
// Create a registry, register each worker goroutine, and hand the
// resulting Thread to every operation that traverses shared nodes:
//
//	package main
//
//	import (
//		"fmt"
//
//		"github.com/kolkov/lockless/lockfree"
//	)
//
//	func main() {
//		reg := lockfree.NewRegistry(lockfree.Config{})
//		q, err := lockfree.NewQueue[int](reg, lockfree.HeapArena())
//		if err != nil {
//			panic(err)
//		}
//
//		th, err := reg.Register()
//		if err != nil {
//			panic(err)
//		}
//		defer th.Unregister()
//
//		q.Enqueue(th, 42)
//		v, ok := q.Dequeue(th)
//		fmt.Println(v, ok)
//	}
//
// # API Overview
//
// The package provides:
//   - Reclamation: [NewRegistry], [Registry], [Thread], [Config]
//   - Containers: [NewQueue], [NewStack], [NewRing], [NewTable]
//   - Node sources: [HeapArena], [PoolArena]
//   - Diagnostics: [Registry.Stats], [Registry.GC], [GetInfo]
//
// # How It Works
//
// Lock-free removal has a famous problem: a thread can unlink a node
// while another thread still holds a pointer into it. Freeing the node
// at unlink time would hand the reader recycled memory. The registry
// solves this with hazard pointers (Michael, IEEE TPDS 2004): readers
// publish the node they are about to dereference in a per-thread slot,
// removers queue unlinked nodes instead of freeing them, and a periodic
// scan frees only nodes no published slot covers.
//
// The consequence for callers is the Thread handle: each goroutine that
// touches a queue, stack, or table registers once, passes its Thread to
// those operations, and unregisters when done. The ring buffer is the
// exception: its elements live inline in lap-sequenced slots and no
// shared memory is ever freed, so its operations take no Thread.
//
// # Arenas
//
// [HeapArena] allocates nodes from the Go heap; the garbage collector
// backstops reclamation, and the registry machinery adds lifecycle
// discipline. [PoolArena] serves nodes from a fixed slab and recycles
// them through a free list; it makes allocation failure observable
// ([ErrAllocFailed]) and reintroduces the node-reuse hazards that
// hazard pointers exist to solve, which is exactly what the reclamation
// tests exercise.
//
// # Performance Characteristics
//
//	Progress:   lock-free (a stalled thread never blocks others)
//	Hot path:   pin/unpin is a handful of atomic stores, no allocation
//	Queue/stack: one node allocation per insert
//	Ring:       no allocation, elements stored inline
//	Table:      entry + box + link allocation per insert
//	Size():     O(1) approximate snapshots on every container
//
// # Examples
//
// See the package examples:
//   - [Example] - queue round trip
//   - [Example_stack] - LIFO draining
//   - [Example_ringZeroValue] - present/absent with zero values
//   - [Example_table] - keyed insert/lookup/remove
//
// # Links
//
// Hazard pointers paper (IEEE TPDS 2004):
// https://www.cs.otago.ac.nz/cosc440/readings/hazard-pointers.pdf
//
// Michael & Scott queue paper (PODC 1996):
// https://www.cs.rochester.edu/~scott/papers/1996_PODC_queues.pdf
package lockfree
