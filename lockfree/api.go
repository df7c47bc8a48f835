package lockfree

import (
	"github.com/kolkov/lockless/internal/lockfree/arena"
	"github.com/kolkov/lockless/internal/lockfree/hashtable"
	"github.com/kolkov/lockless/internal/lockfree/hazard"
	"github.com/kolkov/lockless/internal/lockfree/queue"
	"github.com/kolkov/lockless/internal/lockfree/ring"
	"github.com/kolkov/lockless/internal/lockfree/stack"
)

// Registry coordinates hazard-pointer reclamation for every container
// attached to it. One registry is typically shared process-wide.
type Registry = hazard.Registry

// Thread is a goroutine's handle into a Registry. Obtain one with
// [Registry.Register], pass it to container operations, and release it
// with [Thread.Unregister] when the goroutine is done.
type Thread = hazard.Thread

// Config carries Registry construction parameters. The zero value
// selects the package defaults.
type Config = hazard.Config

// GCStats describes a single reclamation pass. It is delivered to the
// optional Config.OnGC callback.
type GCStats = hazard.GCStats

// Stats is a point-in-time snapshot of Registry counters.
type Stats = hazard.Stats

// Source selects where container nodes come from. See [HeapArena] and
// [PoolArena].
type Source = arena.Source

// Queue is a lock-free multi-producer multi-consumer FIFO queue.
type Queue[T any] = queue.Queue[T]

// Stack is a lock-free multi-producer multi-consumer LIFO stack.
type Stack[T any] = stack.Stack[T]

// Ring is a bounded lock-free MPMC ring buffer. A ring constructed
// with capacity n holds at most n-1 values.
type Ring[T any] = ring.Ring[T]

// Table is a lock-free chained hash table with a fixed bucket count.
type Table[K comparable, V any] = hashtable.Table[K, V]

// Reclamation defaults, applied when Config leaves the corresponding
// field zero.
const (
	// DefaultMaxThreads is the registration capacity of a Registry
	// built with a zero Config.MaxThreads.
	DefaultMaxThreads = hazard.DefaultMaxThreads

	// DefaultRetireThreshold is the retired-node count that triggers an
	// inline reclamation pass when Config.RetireThreshold is zero.
	DefaultRetireThreshold = hazard.DefaultRetireThreshold
)

// Errors surfaced by constructors and operations.
var (
	// ErrRegistryFull is returned by Registry.Register when every
	// thread record is claimed.
	ErrRegistryFull = hazard.ErrRegistryFull

	// ErrAllocFailed is returned by inserting operations when the
	// container's arena cannot produce a node. Only pool arenas fail;
	// heap arenas defer to the Go runtime.
	ErrAllocFailed = arena.ErrAllocFailed

	// ErrFull is returned by Ring.Enqueue when the buffer holds
	// capacity-1 values.
	ErrFull = ring.ErrFull

	// ErrCapacity is returned by NewRing for capacities below 2.
	ErrCapacity = ring.ErrCapacity

	// ErrBuckets is returned by NewTable when the bucket count is zero.
	ErrBuckets = hashtable.ErrBuckets
)

// NewRegistry creates a hazard-pointer registry.
//
// Containers do not own a registry; they attach to one. Sharing a
// single registry across all containers keeps reclamation scans cheap
// and lets one Thread handle serve every structure a goroutine touches.
//
// Example:
//
//	reg := lockfree.NewRegistry(lockfree.Config{
//		MaxThreads:      256,
//		RetireThreshold: 2048,
//	})
func NewRegistry(cfg Config) *Registry {
	return hazard.NewRegistry(cfg)
}

// NewQueue creates an empty FIFO queue whose nodes come from src.
//
// The queue allocates one node up front (the Michael-Scott dummy), so
// construction can fail with [ErrAllocFailed] on an exhausted pool.
func NewQueue[T any](reg *Registry, src Source) (*Queue[T], error) {
	return queue.New[T](reg, src)
}

// NewStack creates an empty LIFO stack whose nodes come from src.
func NewStack[T any](reg *Registry, src Source) *Stack[T] {
	return stack.New[T](reg, src)
}

// NewRing creates a bounded ring buffer with the given slot count.
// One slot stays vacant to distinguish full from empty, so a ring of
// capacity n accepts n-1 values. Capacities below 2 are rejected with
// [ErrCapacity].
//
// Ring operations take no Thread: elements live inline in slots whose
// sequence numbers hand ownership between producers and consumers, and
// no shared memory is ever freed.
func NewRing[T any](capacity uint32) (*Ring[T], error) {
	return ring.New[T](capacity)
}

// NewTable creates a hash table with a fixed number of buckets. Keys
// hash with a per-table seed, so bucket placement varies between
// instances. A zero bucket count is rejected with [ErrBuckets].
func NewTable[K comparable, V any](reg *Registry, buckets uint32, src Source) (*Table[K, V], error) {
	return hashtable.New[K, V](reg, buckets, src)
}

// HeapArena returns a node source backed by the Go heap. Allocation
// never fails and freed nodes are left to the garbage collector.
func HeapArena() Source {
	return arena.Heap()
}

// PoolArena returns a node source backed by a fixed slab of capacity
// nodes with a lock-free free list. Exceeding the capacity makes
// inserts fail with [ErrAllocFailed]; freed nodes are recycled, which
// is what makes hazard-pointer protection observable in tests.
func PoolArena(capacity uint32) Source {
	return arena.Pool(capacity)
}
