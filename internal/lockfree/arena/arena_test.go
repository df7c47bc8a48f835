package arena

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tnode mirrors the shape of a container link node.
type tnode struct {
	val  uint64
	next *tnode
}

// ========================================
// Source Dispatch Tests
// ========================================

// TestFor_Dispatch verifies each source yields its allocator kind.
func TestFor_Dispatch(t *testing.T) {
	_, isHeap := For[tnode](Heap()).(HeapAllocator[tnode])
	assert.True(t, isHeap, "Heap() source should yield HeapAllocator")

	pool, isPool := For[tnode](Pool(8)).(*PoolAllocator[tnode])
	require.True(t, isPool, "Pool() source should yield PoolAllocator")
	assert.Equal(t, uint32(8), pool.Capacity())
}

// ========================================
// Heap Allocator Tests
// ========================================

// TestHeapAllocator_Alloc verifies heap allocation returns zeroed nodes
// and never fails.
func TestHeapAllocator_Alloc(t *testing.T) {
	var a HeapAllocator[tnode]

	n, ok := a.Alloc()
	require.True(t, ok, "heap Alloc must not fail")
	require.NotNil(t, n)
	assert.Equal(t, uint64(0), n.val, "Alloc must return a zeroed node")
	assert.Nil(t, n.next)

	// Lifecycle calls are no-ops; the node stays intact.
	n.val = 7
	a.Retire(n)
	a.Free(n)
	a.Reclaim(unsafe.Pointer(n))
	assert.Equal(t, uint64(7), n.val)
}

// ========================================
// Pool Lifecycle Tests
// ========================================

// TestPoolAllocator_Exhaustion verifies a pool of capacity N serves
// exactly N allocations and then fails without side effects.
func TestPoolAllocator_Exhaustion(t *testing.T) {
	const capacity = 4
	p := NewPoolAllocator[tnode](capacity)

	nodes := make([]*tnode, 0, capacity)
	for i := 0; i < capacity; i++ {
		n, ok := p.Alloc()
		require.True(t, ok, "alloc %d of %d should succeed", i+1, capacity)
		nodes = append(nodes, n)
	}

	n, ok := p.Alloc()
	assert.False(t, ok, "alloc beyond capacity should fail")
	assert.Nil(t, n)

	// Freeing one slot makes exactly one allocation possible again.
	p.Retire(nodes[0])
	p.Free(nodes[0])
	_, ok = p.Alloc()
	assert.True(t, ok, "alloc after one Free should succeed")
	_, ok = p.Alloc()
	assert.False(t, ok, "pool should be exhausted again")
}

// TestPoolAllocator_ZeroCapacity verifies the degenerate pool always fails.
func TestPoolAllocator_ZeroCapacity(t *testing.T) {
	p := NewPoolAllocator[tnode](0)

	n, ok := p.Alloc()
	assert.False(t, ok)
	assert.Nil(t, n)
}

// TestPoolAllocator_StateTransitions verifies the slot lifecycle
// free -> live -> retired -> free, with the generation bumping on Free.
func TestPoolAllocator_StateTransitions(t *testing.T) {
	p := NewPoolAllocator[tnode](2)

	n, ok := p.Alloc()
	require.True(t, ok)
	assert.Equal(t, StateLive, p.State(n))
	assert.Equal(t, uint64(0), p.Generation(n))

	p.Retire(n)
	assert.Equal(t, StateRetired, p.State(n), "retired node must stay out of the free list")

	p.Free(n)
	assert.Equal(t, StateFree, p.State(n))
	assert.Equal(t, uint64(1), p.Generation(n), "Free must bump the generation")
}

// TestPoolAllocator_PoisonOnFree verifies Free clears the slot contents.
func TestPoolAllocator_PoisonOnFree(t *testing.T) {
	p := NewPoolAllocator[tnode](1)

	n, ok := p.Alloc()
	require.True(t, ok)
	n.val = 0xdeadbeef
	n.next = n

	p.Retire(n)
	p.Free(n)

	assert.Equal(t, uint64(0), n.val, "Free must poison the payload")
	assert.Nil(t, n.next, "Free must poison the link")
}

// TestPoolAllocator_AllocZeroed verifies recycled slots come back zeroed.
func TestPoolAllocator_AllocZeroed(t *testing.T) {
	p := NewPoolAllocator[tnode](1)

	n, _ := p.Alloc()
	n.val = 99
	p.Retire(n)
	p.Free(n)

	m, ok := p.Alloc()
	require.True(t, ok)
	assert.Same(t, n, m, "capacity-1 pool must recycle the single slot")
	assert.Equal(t, uint64(0), m.val, "recycled slot must be zeroed")
	assert.Equal(t, uint64(1), p.Generation(m))
}

// TestPoolAllocator_LIFOReuse verifies the free list is last-in first-out.
func TestPoolAllocator_LIFOReuse(t *testing.T) {
	p := NewPoolAllocator[tnode](4)

	a, _ := p.Alloc()
	b, _ := p.Alloc()

	p.Retire(a)
	p.Free(a)
	p.Retire(b)
	p.Free(b)

	first, _ := p.Alloc()
	second, _ := p.Alloc()
	assert.Same(t, b, first, "most recently freed slot should be served first")
	assert.Same(t, a, second)
}

// TestPoolAllocator_Reclaim verifies the reclaimer entry point frees the
// slot exactly like Free.
func TestPoolAllocator_Reclaim(t *testing.T) {
	p := NewPoolAllocator[tnode](1)

	n, _ := p.Alloc()
	p.Retire(n)
	p.Reclaim(unsafe.Pointer(n))

	assert.Equal(t, StateFree, p.State(n))
	assert.Equal(t, uint64(1), p.Generation(n))
}

// ========================================
// Concurrency Tests
// ========================================

// TestPoolAllocator_ConcurrentOwnership verifies no slot is handed to two
// goroutines at once: each owner stamps its ID into the node and must read
// it back unchanged before freeing.
func TestPoolAllocator_ConcurrentOwnership(t *testing.T) {
	const (
		capacity   = 64
		goroutines = 16
		rounds     = 5000
	)

	p := NewPoolAllocator[tnode](capacity)
	var wg sync.WaitGroup
	errs := make([]int, goroutines)

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			stamp := uint64(id + 1)
			for i := 0; i < rounds; i++ {
				n, ok := p.Alloc()
				if !ok {
					continue // pool contended away, try again next round
				}
				n.val = stamp
				if n.val != stamp {
					errs[id]++
				}
				p.Retire(n)
				p.Free(n)
			}
		}(g)
	}
	wg.Wait()

	for id, e := range errs {
		if e > 0 {
			t.Errorf("goroutine %d observed %d clobbered stamps (double allocation)", id, e)
		}
	}

	t.Logf("%d goroutines x %d alloc/free rounds over %d slots, no double hand-outs",
		goroutines, rounds, capacity)
}

// TestPoolAllocator_ConcurrentChurn_Conservation verifies the slab never
// over-serves: at every instant live allocations never exceed capacity,
// and after quiescence every slot is free again.
func TestPoolAllocator_ConcurrentChurn_Conservation(t *testing.T) {
	const (
		capacity   = 8
		goroutines = 8
		rounds     = 20000
	)

	p := NewPoolAllocator[tnode](capacity)
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if n, ok := p.Alloc(); ok {
					p.Retire(n)
					p.Free(n)
				}
			}
		}()
	}
	wg.Wait()

	free := 0
	for i := 0; i < capacity; i++ {
		n, ok := p.Alloc()
		require.True(t, ok, "slot %d lost after churn", i)
		require.NotNil(t, n)
		free++
	}
	_, ok := p.Alloc()
	assert.False(t, ok, "pool should report exactly %d slots", capacity)

	t.Logf("churn complete: all %d slots recovered", free)
}

// ========================================
// Benchmarks
// ========================================

// BenchmarkPoolAllocator_AllocFree measures the uncontended recycle path.
func BenchmarkPoolAllocator_AllocFree(b *testing.B) {
	p := NewPoolAllocator[tnode](64)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		n, _ := p.Alloc()
		p.Retire(n)
		p.Free(n)
	}
}

// BenchmarkPoolAllocator_AllocFree_Parallel measures free-list contention.
func BenchmarkPoolAllocator_AllocFree_Parallel(b *testing.B) {
	p := NewPoolAllocator[tnode](1024)

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if n, ok := p.Alloc(); ok {
				p.Retire(n)
				p.Free(n)
			}
		}
	})
}

// BenchmarkHeapAllocator_Alloc measures the GC-backed path.
func BenchmarkHeapAllocator_Alloc(b *testing.B) {
	var a HeapAllocator[tnode]

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		n, _ := a.Alloc()
		a.Retire(n)
		a.Free(n)
	}
}
