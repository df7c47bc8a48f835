// Package hashtable implements a lock-free chained hash map with a fixed
// bucket array.
//
// Each bucket is an unordered singly-linked chain headed by an embedded
// dummy entry. Removal is two-phase in the Harris/Michael style (Harris,
// DISC 2001; Michael, SPAA 2002): an entry is first deleted logically by
// marking, then excised physically by whichever walker gets there first.
// The successor pointer and the deletion mark live FUSED in one immutable
// link object, replaced wholesale by CAS. The fusion is load-bearing: an
// excision CAS on the predecessor expects an unmarked link, so it cannot
// succeed after the predecessor was itself marked, and a chain can never
// resurrect an entry that a helper already excised behind a dying
// predecessor. Two separate cells cannot give that atomicity.
//
// Chains grow at the head, and an insert links there with a CAS that
// expects the edge its walk proceeded from, so two racing inserts of one
// key collapse to an overwrite: the loser rewalks and finds the winner's
// entry. At most one live entry per key exists at any instant; equal
// keys coexist only as a marked entry plus a younger live one. All walks
// skip marked entries and help excise them in passing; the excision CAS
// winner is the one thread that retires the entry to the hazard
// registry.
//
// Every traversal pins entries hand-over-hand in the thread's two hazard
// slots (current in one, predecessor in the other) and revalidates the
// predecessor's link after each pin, restarting from the bucket head on
// any interference. With a pooled arena an unpinned entry may be
// poisoned and recycled at any moment, so the pins are what make the
// key comparison and link reads safe at all.
package hashtable

import (
	"errors"
	"hash/maphash"
	"unsafe"

	"github.com/kolkov/lockless/internal/lockfree/arena"
	"github.com/kolkov/lockless/internal/lockfree/hazard"
	"github.com/kolkov/lockless/internal/lockfree/order"
)

// ErrBuckets is returned by New when the bucket count is zero.
var ErrBuckets = errors.New("lockless: table needs at least one bucket")

// link is one immutable chain edge: the successor and the holder's
// deletion mark, replaced as a unit. Pointer identity doubles as a
// version check, because every state change installs a freshly
// allocated link.
type link[K comparable, V any] struct {
	to     *entry[K, V]
	marked bool
}

// entry is one chain node. key is immutable after publication; value
// holds a replaceable box so overwrites are atomic; next is the fused
// edge. Bucket dummies are entries too, with key and value unused, so
// head excision needs no special casing.
type entry[K comparable, V any] struct {
	key   K
	value order.Pointer[V]
	next  order.Pointer[link[K, V]]
}

// Table is a lock-free fixed-capacity hash map. Construct with New.
type Table[K comparable, V any] struct {
	size  order.Uint64
	_pad0 [56]byte

	buckets   []entry[K, V]
	seed      maphash.Seed
	threshold uint64

	alloc   arena.Allocator[entry[K, V]]
	reclaim func(unsafe.Pointer)
	reg     *hazard.Registry
}

// New builds a table with the given bucket count. Entries come from src;
// retired entries drain through reg. The advisory resize threshold is
// buckets*3/4.
func New[K comparable, V any](reg *hazard.Registry, buckets uint32, src arena.Source) (*Table[K, V], error) {
	if buckets == 0 {
		return nil, ErrBuckets
	}
	t := &Table[K, V]{
		buckets:   make([]entry[K, V], buckets),
		seed:      maphash.MakeSeed(),
		threshold: uint64(buckets) * 3 / 4,
		reg:       reg,
	}
	t.alloc = arena.For[entry[K, V]](src)
	t.reclaim = t.alloc.Reclaim

	empty := &link[K, V]{}
	for i := range t.buckets {
		t.buckets[i].next.Store(empty, order.Relaxed)
	}
	return t, nil
}

// bucket maps a key to its chain's dummy head.
func (t *Table[K, V]) bucket(k K) *entry[K, V] {
	h := mix64(maphash.Comparable(t.seed, k))
	return &t.buckets[h%uint64(len(t.buckets))]
}

// mix64 is Wang's 64-bit integer finalizer. maphash already distributes
// well, but the extra mix keeps bucket selection unbiased for bucket
// counts that divide low-entropy hash subsets.
//
//go:nosplit
func mix64(key uint64) uint64 {
	key = ^key + key<<21
	key ^= key >> 24
	key = key + key<<3 + key<<8
	key ^= key >> 14
	key = key + key<<2 + key<<4
	key ^= key >> 28
	key += key << 31
	return key
}

// find walks the chain of d for the first live entry with key k.
//
// hlk is the head edge the returned walk proceeded from: the last value
// this walk loaded from d.next, or installed there while excising at
// the head. Chains grow only at the head, so while d.next still holds
// hlk, nothing stands in front of what the walk examined; a caller that
// CASes d.next expecting hlk extends exactly the chain it searched.
//
// On a match find also returns the predecessor, the edge from it (pred
// to cur), the entry, and the entry's own unmarked link; pred and cur
// are left pinned in the thread's two slots, so the caller may
// dereference them until it clears or overwrites the slots. Without a
// match cur is nil and pred/plk describe the chain tail.
//
// Flow, per step of the walk:
//  1. Pin the candidate published in the predecessor's edge, then
//     re-read the edge: a changed edge means the predecessor was marked
//     or re-pointed, so restart from the head
//  2. A marked candidate is dead weight: bypass it with a CAS on the
//     predecessor's edge; winning that CAS confers the duty to retire
//     the entry, losing it means the chain moved, restart. A bypass
//     installed at the head becomes the new hlk
//  3. A live candidate either matches or becomes the next predecessor,
//     flipping which hazard slot pins what (hand-over-hand)
func (t *Table[K, V]) find(th *hazard.Thread, d *entry[K, V], k K) (hlk *link[K, V], pred *entry[K, V], plk *link[K, V], cur *entry[K, V], clk *link[K, V]) {
walk:
	for {
		pred = d
		hazard.Publish(th, 0, pred)
		plk = pred.next.Load(order.Acquire)
		hlk = plk
		s := 1
		for {
			cur = plk.to
			if cur == nil {
				return hlk, pred, plk, nil, nil
			}
			hazard.Publish(th, s, cur)
			if pred.next.Load(order.Acquire) != plk {
				continue walk
			}
			clk = cur.next.Load(order.Acquire)
			if clk.marked {
				bypass := &link[K, V]{to: clk.to}
				if !pred.next.CompareAndSwap(plk, bypass, order.AcqRel, order.Relaxed) {
					continue walk
				}
				t.alloc.Retire(cur)
				th.Retire(unsafe.Pointer(cur), t.reclaim)
				plk = bypass
				if pred == d {
					hlk = bypass
				}
				continue
			}
			if cur.key == k {
				return hlk, pred, plk, cur, clk
			}
			pred = cur
			plk = clk
			s ^= 1
		}
	}
}

// drain walks the whole chain of d once, excising every entry that was
// marked before the walk reached it. A remover that lost its own
// excision CAS delegates here: the target is already marked, so any
// complete pass over the chain ends with it excised by somebody.
func (t *Table[K, V]) drain(th *hazard.Thread, d *entry[K, V]) {
walk:
	for {
		pred := d
		hazard.Publish(th, 0, pred)
		plk := pred.next.Load(order.Acquire)
		s := 1
		for {
			cur := plk.to
			if cur == nil {
				return
			}
			hazard.Publish(th, s, cur)
			if pred.next.Load(order.Acquire) != plk {
				continue walk
			}
			clk := cur.next.Load(order.Acquire)
			if clk.marked {
				bypass := &link[K, V]{to: clk.to}
				if !pred.next.CompareAndSwap(plk, bypass, order.AcqRel, order.Relaxed) {
					continue walk
				}
				t.alloc.Retire(cur)
				th.Retire(unsafe.Pointer(cur), t.reclaim)
				plk = bypass
				continue
			}
			pred = cur
			plk = clk
			s ^= 1
		}
	}
}

// clearWalk drops whatever pins a chain walk left behind.
func clearWalk(th *hazard.Thread) {
	th.Clear(0)
	th.Clear(1)
}

// Insert puts k:v into the table, overwriting the value of a live entry
// with an equal key. It returns arena.ErrAllocFailed when the entry
// source is exhausted; the table is unchanged in that case.
//
// The overwrite is a box swap on the existing entry and is NOT
// linearizable against a concurrent Remove of the same key: the remover
// may win the mark first and take the old value, discarding this one
// with the entry. Callers that need insert-after-remove atomicity must
// serialize those two operations per key themselves.
func (t *Table[K, V]) Insert(th *hazard.Thread, k K, v V) error {
	e, ok := t.alloc.Alloc()
	if !ok {
		return arena.ErrAllocFailed
	}
	box := new(V)
	*box = v
	e.key = k
	e.value.Store(box, order.Relaxed)

	d := t.bucket(k)
	for {
		hlk, _, _, cur, _ := t.find(th, d, k)
		if cur != nil {
			cur.value.Store(box, order.Release)
			clearWalk(th)
			t.alloc.Free(e)
			return nil
		}

		// No live entry: link at the head, expecting the edge the walk
		// proceeded from. An insert of this key that landed mid-walk
		// stands in front of that edge, so this CAS fails and the rewalk
		// finds the entry to overwrite instead.
		e.next.Store(&link[K, V]{to: hlk.to}, order.Relaxed)
		if d.next.CompareAndSwap(hlk, &link[K, V]{to: e}, order.Release, order.Relaxed) {
			clearWalk(th)
			t.size.FetchAdd(1, order.Relaxed)
			return nil
		}
	}
}

// Get returns the value of the first live entry with key k.
func (t *Table[K, V]) Get(th *hazard.Thread, k K) (V, bool) {
	var zero V
	_, _, _, cur, _ := t.find(th, t.bucket(k), k)
	if cur == nil {
		clearWalk(th)
		return zero, false
	}
	v := *cur.value.Load(order.Acquire)
	clearWalk(th)
	return v, true
}

// Contains reports whether a live entry with key k exists.
func (t *Table[K, V]) Contains(th *hazard.Thread, k K) bool {
	_, _, _, cur, _ := t.find(th, t.bucket(k), k)
	clearWalk(th)
	return cur != nil
}

// Remove deletes the first live entry with key k and returns its value.
//
// Flow:
//  1. Walk to a live match; none means nothing to remove
//  2. Mark it: CAS its link to a marked copy. This is the linearization
//     point and admits exactly one winner per entry; losers rewalk and,
//     finding no other live entry, report not-found
//  3. The winner copies the value out and tries to excise the entry
//     through the predecessor edge it still holds pinned. Losing that
//     CAS is fine: the entry stays marked, and a full drain pass makes
//     sure some walker excises and retires it
func (t *Table[K, V]) Remove(th *hazard.Thread, k K) (V, bool) {
	var zero V
	d := t.bucket(k)
	for {
		_, pred, plk, cur, clk := t.find(th, d, k)
		if cur == nil {
			clearWalk(th)
			return zero, false
		}
		if !cur.next.CompareAndSwap(clk, &link[K, V]{to: clk.to, marked: true}, order.AcqRel, order.Relaxed) {
			// The entry was marked, re-pointed, or its successor was
			// excised since the walk. Rewalk from scratch.
			continue
		}

		v := *cur.value.Load(order.Acquire)
		t.size.FetchSub(1, order.Relaxed)

		if pred.next.CompareAndSwap(plk, &link[K, V]{to: clk.to}, order.AcqRel, order.Relaxed) {
			clearWalk(th)
			t.alloc.Retire(cur)
			th.Retire(unsafe.Pointer(cur), t.reclaim)
		} else {
			clearWalk(th)
			t.drain(th, d)
			clearWalk(th)
		}
		return v, true
	}
}

// Size reports the live entry count. Inserts and removes update the
// counter after their linearization points, so the value is a snapshot;
// a transient negative reading clamps to zero.
func (t *Table[K, V]) Size() int {
	n := int64(t.size.Load(order.Relaxed))
	if n < 0 {
		return 0
	}
	return int(n)
}

// Buckets reports the fixed bucket count.
func (t *Table[K, V]) Buckets() uint32 { return uint32(len(t.buckets)) }

// NeedsResize reports whether the live entry count exceeds the advisory
// threshold (buckets*3/4). The table never rehashes; callers that care
// build a bigger table and migrate.
func (t *Table[K, V]) NeedsResize() bool {
	return uint64(t.Size()) > t.threshold
}

// Destroy frees every chained entry, marked or not. The caller must
// guarantee quiescence: no concurrent operations and no thread holding a
// pin into this table. Entries already retired to the registry are freed
// by registry GC passes instead. The table is unusable afterwards.
func (t *Table[K, V]) Destroy() {
	empty := &link[K, V]{}
	for i := range t.buckets {
		d := &t.buckets[i]
		e := d.next.Load(order.Relaxed).to
		for e != nil {
			next := e.next.Load(order.Relaxed).to
			t.alloc.Free(e)
			e = next
		}
		d.next.Store(empty, order.Relaxed)
	}
	t.size.Store(0, order.Relaxed)
}
