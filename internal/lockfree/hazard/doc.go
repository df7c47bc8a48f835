// Package hazard implements hazard-pointer based safe memory reclamation
// for the lock-free containers.
//
// This package provides the Registry that containers use to defer freeing
// nodes until no thread can still be dereferencing them. It implements the
// classic hazard-pointer scheme (Michael, "Hazard Pointers: Safe Memory
// Reclamation for Lock-Free Objects", IEEE TPDS 2004).
//
// # Architecture
//
// The reclamation machinery consists of three main components:
//
//  1. Registry: a fixed table of per-thread hazard records plus a global
//     retired list shared by every container bound to it
//  2. Thread: a claimed hazard record with SlotsPerThread publication slots,
//     handed to each goroutine that touches a container
//  3. GC: the scan pass that frees retired nodes no published slot covers
//
// # Protocol Overview
//
// A reader protects a node before dereferencing it:
//
//   - Load the candidate pointer from the shared cell
//   - Publish it into one of the thread's hazard slots
//   - Re-read the cell; if it changed, loop; otherwise the node cannot
//     be freed until the slot is cleared
//
// A writer that unlinks a node never frees it directly. It hands the node
// to Retire, which queues it on the global retired list. Once the list
// reaches the configured threshold, a GC pass scans every active slot in
// the registry: nodes matching a published slot are requeued, the rest are
// handed to their free functions.
//
// # Performance Characteristics
//
// Protect and Clear are the hot path, called on every container operation:
//
//   - Protect: one load, two stores, one validating load per iteration
//   - Clear: two stores
//   - Zero heap allocations on either
//
// Each hazard slot occupies its own cache line so that a scanning GC pass
// does not bounce lines between publishing threads.
//
// # Thread Safety
//
// A Thread is owned by exactly one goroutine; its slots are written only
// by the owner and read by concurrent GC scans. All Registry operations
// (Register, Retire, GC, Stats) are safe to call from any goroutine.
package hazard
