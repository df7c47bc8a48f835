package lockfree_test

import (
	"fmt"

	"github.com/kolkov/lockless/lockfree"
)

// Example demonstrates the basic queue round trip: register a thread,
// enqueue, dequeue, unregister.
func Example() {
	reg := lockfree.NewRegistry(lockfree.Config{})
	q, err := lockfree.NewQueue[string](reg, lockfree.HeapArena())
	if err != nil {
		panic(err)
	}

	th, err := reg.Register()
	if err != nil {
		panic(err)
	}
	defer th.Unregister()

	q.Enqueue(th, "first")
	q.Enqueue(th, "second")

	for {
		v, ok := q.Dequeue(th)
		if !ok {
			break
		}
		fmt.Println(v)
	}

	// Output:
	// first
	// second
}

// Example_stack drains a Treiber stack in LIFO order.
func Example_stack() {
	reg := lockfree.NewRegistry(lockfree.Config{})
	s := lockfree.NewStack[int](reg, lockfree.HeapArena())

	th, err := reg.Register()
	if err != nil {
		panic(err)
	}
	defer th.Unregister()

	for i := 1; i <= 3; i++ {
		s.Push(i)
	}
	for {
		v, ok := s.Pop(th)
		if !ok {
			break
		}
		fmt.Println(v)
	}

	// Output:
	// 3
	// 2
	// 1
}

// Example_ringZeroValue shows that the ring's presence flag, not the
// value itself, reports emptiness: a stored zero round-trips intact.
func Example_ringZeroValue() {
	r, err := lockfree.NewRing[int](4)
	if err != nil {
		panic(err)
	}

	r.Enqueue(0)

	v, ok := r.Dequeue()
	fmt.Println(v, ok)

	v, ok = r.Dequeue()
	fmt.Println(v, ok)

	// Output:
	// 0 true
	// 0 false
}

// Example_table inserts, overwrites, looks up, and removes a key.
func Example_table() {
	reg := lockfree.NewRegistry(lockfree.Config{})
	t, err := lockfree.NewTable[string, int](reg, 16, lockfree.HeapArena())
	if err != nil {
		panic(err)
	}

	th, err := reg.Register()
	if err != nil {
		panic(err)
	}
	defer th.Unregister()

	t.Insert(th, "answer", 41)
	t.Insert(th, "answer", 42) // overwrite

	v, ok := t.Get(th, "answer")
	fmt.Println(v, ok)

	v, ok = t.Remove(th, "answer")
	fmt.Println(v, ok)

	fmt.Println(t.Contains(th, "answer"))

	// Output:
	// 42 true
	// 42 true
	// false
}

// Example_poolArena shows bounded allocation: a pool of 2 nodes backs a
// stack, so the third push fails until a pop recycles a node.
func Example_poolArena() {
	reg := lockfree.NewRegistry(lockfree.Config{RetireThreshold: 1})
	s := lockfree.NewStack[int](reg, lockfree.PoolArena(2))

	th, err := reg.Register()
	if err != nil {
		panic(err)
	}
	defer th.Unregister()

	fmt.Println(s.Push(1))
	fmt.Println(s.Push(2))
	fmt.Println(s.Push(3) == lockfree.ErrAllocFailed)

	// Output:
	// <nil>
	// <nil>
	// true
}
