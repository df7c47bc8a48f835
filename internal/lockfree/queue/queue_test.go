package queue

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/kolkov/lockless/internal/lockfree/arena"
	"github.com/kolkov/lockless/internal/lockfree/hazard"
	"github.com/kolkov/lockless/internal/lockfree/order"
)

func register(t testing.TB, reg *hazard.Registry) *hazard.Thread {
	t.Helper()
	th, err := reg.Register()
	if err != nil {
		t.Fatalf("hazard Register() failed: %v", err)
	}
	return th
}

// ========================================
// FIFO Order Tests
// ========================================

// TestQueue_EnqueueDequeue_FIFOAcrossGoroutines verifies elements cross
// goroutines in insertion order and the queue reports empty afterwards.
func TestQueue_EnqueueDequeue_FIFOAcrossGoroutines(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{})
	q, err := New[int](reg, arena.Heap())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		th := register(t, reg)
		defer th.Unregister()
		for _, v := range []int{1, 2, 3} {
			if err := q.Enqueue(th, v); err != nil {
				t.Errorf("Enqueue(%d) failed: %v", v, err)
			}
		}
	}()
	<-done

	th := register(t, reg)
	defer th.Unregister()

	for _, want := range []int{1, 2, 3} {
		v, ok := q.Dequeue(th)
		if !ok {
			t.Fatalf("Dequeue() empty, want %d", want)
		}
		if v != want {
			t.Errorf("Dequeue() = %d, want %d", v, want)
		}
	}
	if v, ok := q.Dequeue(th); ok {
		t.Errorf("Dequeue() on drained queue = %d, want empty", v)
	}
}

// TestQueue_Dequeue_Empty verifies an empty queue reports false without
// blocking.
func TestQueue_Dequeue_Empty(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{})
	q, err := New[string](reg, arena.Heap())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	th := register(t, reg)
	defer th.Unregister()

	if v, ok := q.Dequeue(th); ok {
		t.Errorf("Dequeue() on fresh queue = %q, want empty", v)
	}
}

// TestQueue_Size_SingleThread verifies exact counting without
// concurrency.
func TestQueue_Size_SingleThread(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{})
	q, err := New[int](reg, arena.Heap())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	th := register(t, reg)
	defer th.Unregister()

	if got := q.Size(); got != 0 {
		t.Errorf("Size() of fresh queue = %d, want 0", got)
	}
	for i := 0; i < 10; i++ {
		q.Enqueue(th, i)
	}
	if got := q.Size(); got != 10 {
		t.Errorf("Size() after 10 enqueues = %d, want 10", got)
	}
	for i := 0; i < 4; i++ {
		q.Dequeue(th)
	}
	if got := q.Size(); got != 6 {
		t.Errorf("Size() after 4 dequeues = %d, want 6", got)
	}
}

// ========================================
// Conservation Tests
// ========================================

// runConservation drives producers*perProducer distinct values through q
// with the given number of producers and consumers, and fails the test on
// any lost, duplicated, or invented element.
func runConservation(t *testing.T, reg *hazard.Registry, q *Queue[uint64], producers, consumers, perProducer int) {
	t.Helper()
	total := producers * perProducer

	var received order.Uint64
	var mu sync.Mutex
	seen := make(map[uint64]int, total)
	var wg sync.WaitGroup

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := register(t, reg)
			defer th.Unregister()
			local := make([]uint64, 0, total/consumers+1)
			for {
				if v, ok := q.Dequeue(th); ok {
					local = append(local, v)
					if received.FetchAdd(1, order.Relaxed)+1 == uint64(total) {
						break
					}
					continue
				}
				if received.Load(order.Relaxed) >= uint64(total) {
					break
				}
				runtime.Gosched()
			}
			mu.Lock()
			for _, v := range local {
				seen[v]++
			}
			mu.Unlock()
		}()
	}

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			th := register(t, reg)
			defer th.Unregister()
			base := uint64(id) * 1_000_000
			for i := 0; i < perProducer; i++ {
				v := base + uint64(i) + 1
				for {
					err := q.Enqueue(th, v)
					if err == nil {
						break
					}
					if !errors.Is(err, arena.ErrAllocFailed) {
						t.Errorf("Enqueue(%d) failed: %v", v, err)
						return
					}
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()

	if len(seen) != total {
		t.Errorf("received %d distinct values, want %d", len(seen), total)
	}
	for v, n := range seen {
		if n != 1 {
			t.Errorf("value %d received %d times", v, n)
		}
		id, seq := v/1_000_000, v%1_000_000
		if int(id) >= producers || seq == 0 || int(seq) > perProducer {
			t.Errorf("received value %d that no producer sent", v)
		}
	}
	th := register(t, reg)
	defer th.Unregister()
	if v, ok := q.Dequeue(th); ok {
		t.Errorf("queue not empty after conservation run, got %d", v)
	}
	t.Logf("conservation held: %d values, %d producers, %d consumers",
		total, producers, consumers)
}

// TestQueue_Conservation_HeapMPMC hammers a heap-backed queue with
// concurrent producers and consumers.
func TestQueue_Conservation_HeapMPMC(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{})
	q, err := New[uint64](reg, arena.Heap())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runConservation(t, reg, q, 4, 4, 25_000)
}

// TestQueue_Conservation_PoolMPMC runs the same workload over a small
// fixed pool, so reclamation has to keep recycling nodes for the
// producers to make progress. Poisoned reuse would surface as invented
// or duplicated values.
func TestQueue_Conservation_PoolMPMC(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{RetireThreshold: 64})
	q, err := New[uint64](reg, arena.Pool(256))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runConservation(t, reg, q, 2, 2, 5_000)

	st := reg.Stats()
	if st.GCRuns == 0 {
		t.Error("pool workload completed without a single GC pass")
	}
	t.Logf("registry stats: %+v", st)
}

// ========================================
// Pool Lifecycle Tests
// ========================================

// TestQueue_Enqueue_PoolExhausted verifies ErrAllocFailed once the slab
// is full. The dummy consumes one slot.
func TestQueue_Enqueue_PoolExhausted(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{RetireThreshold: 1 << 30})
	q, err := New[int](reg, arena.Pool(4))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	th := register(t, reg)
	defer th.Unregister()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(th, i); err != nil {
			t.Fatalf("Enqueue #%d failed: %v", i, err)
		}
	}
	if err := q.Enqueue(th, 99); !errors.Is(err, arena.ErrAllocFailed) {
		t.Fatalf("Enqueue on full pool: err = %v, want ErrAllocFailed", err)
	}
}

// TestQueue_PoolRecycle_InlineGC verifies a minimal pool keeps working
// when every retirement is reclaimed immediately.
func TestQueue_PoolRecycle_InlineGC(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{RetireThreshold: 1})
	q, err := New[int](reg, arena.Pool(2))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	th := register(t, reg)
	defer th.Unregister()

	for i := 0; i < 50; i++ {
		if err := q.Enqueue(th, i); err != nil {
			t.Fatalf("Enqueue #%d failed: %v", i, err)
		}
		v, ok := q.Dequeue(th)
		if !ok || v != i {
			t.Fatalf("Dequeue #%d = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
	t.Logf("2-slot pool sustained 50 cycles with inline reclamation")
}

// TestQueue_Destroy_FreesChain verifies Destroy hands every chained node
// back to the pool.
func TestQueue_Destroy_FreesChain(t *testing.T) {
	reg := hazard.NewRegistry(hazard.Config{RetireThreshold: 1 << 30})
	q, err := New[int](reg, arena.Pool(8))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	th := register(t, reg)

	for i := 0; i < 5; i++ {
		q.Enqueue(th, i)
	}
	q.Dequeue(th)
	q.Dequeue(th)
	th.Unregister()

	// The two retired dummies are still parked in the registry.
	if st := reg.GC(); st.Freed != 2 {
		t.Fatalf("GC freed %d nodes, want the 2 retired dummies", st.Freed)
	}

	q.Destroy()

	free := 0
	for {
		if _, ok := q.alloc.Alloc(); !ok {
			break
		}
		free++
	}
	if free != 8 {
		t.Errorf("pool has %d free slots after Destroy, want 8", free)
	}
}

// ========================================
// Benchmarks
// ========================================

func BenchmarkQueue_EnqueueDequeue(b *testing.B) {
	reg := hazard.NewRegistry(hazard.Config{})
	q, _ := New[int](reg, arena.Heap())
	th, _ := reg.Register()
	defer th.Unregister()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(th, i)
		q.Dequeue(th)
	}
}

func BenchmarkQueue_Parallel(b *testing.B) {
	reg := hazard.NewRegistry(hazard.Config{MaxThreads: 256})
	q, _ := New[int](reg, arena.Heap())

	b.RunParallel(func(pb *testing.PB) {
		th, err := reg.Register()
		if err != nil {
			b.Errorf("Register() failed: %v", err)
			return
		}
		defer th.Unregister()
		i := 0
		for pb.Next() {
			if i&1 == 0 {
				q.Enqueue(th, i)
			} else {
				q.Dequeue(th)
			}
			i++
		}
	})
}
