package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/lockless/internal/logging"
	"github.com/kolkov/lockless/lockfree"
)

// target adapts one container to the generic producer/consumer driver.
// The ring ignores the Thread argument; everything else pins through it.
type target struct {
	name   string
	insert func(th *lockfree.Thread, v uint64) error
	remove func(th *lockfree.Thread) (uint64, bool)
	size   func() int
}

// workload is one resolved stress run: Threads producers and Threads
// consumers pushing Threads*Ops distinct values through a target.
type workload struct {
	Threads int
	Ops     int
	Timeout time.Duration
	Log     logging.Logger
}

// encodeValue packs a producer ID and a 1-based sequence number into one
// distinct uint64.
func encodeValue(producer, seq int) uint64 {
	return uint64(producer)<<32 | uint64(seq)
}

// decodeValue splits a workload value back into producer ID and sequence.
func decodeValue(v uint64) (producer, seq int) {
	return int(v >> 32), int(v & 0xffffffff)
}

// report is the outcome of one stress run, logged and then verified.
type report struct {
	Container string
	Workers   int

	Inserted  uint64
	Removed   uint64
	FinalSize int

	Duplicates int
	Invented   int
	Missing    int
	BadValues  int
	Retries    uint64

	TimedOut bool
	Elapsed  time.Duration
	Registry lockfree.Stats
}

// verify turns the report into a pass/fail decision. The error message
// strings every violated property together, so a failing run states
// everything wrong at once.
func (r *report) verify() error {
	var problems []string
	if r.TimedOut {
		problems = append(problems, fmt.Sprintf(
			"watchdog fired with %d of %d removals outstanding",
			r.Inserted-r.Removed, r.Inserted))
	}
	if r.Inserted != r.Removed+uint64(r.FinalSize) {
		problems = append(problems, fmt.Sprintf(
			"conservation violated: %d inserted != %d removed + %d resident",
			r.Inserted, r.Removed, r.FinalSize))
	}
	if r.Duplicates > 0 {
		problems = append(problems, fmt.Sprintf("%d duplicated values", r.Duplicates))
	}
	if r.Invented > 0 {
		problems = append(problems, fmt.Sprintf("%d values no producer sent", r.Invented))
	}
	if r.Missing > 0 && !r.TimedOut {
		problems = append(problems, fmt.Sprintf("%d values lost", r.Missing))
	}
	if r.BadValues > 0 {
		problems = append(problems, fmt.Sprintf("%d value mismatches", r.BadValues))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s verification failed: %s", r.Container, strings.Join(problems, "; "))
	}
	return nil
}

// log emits the run summary and the registry counters.
func (r *report) log(log logging.Logger) {
	log.Info("run complete",
		"container", r.Container,
		"workers", r.Workers,
		"inserted", r.Inserted,
		"removed", r.Removed,
		"resident", r.FinalSize,
		"retries", r.Retries,
		"elapsed", r.Elapsed.Round(time.Millisecond))
	log.Info("registry stats",
		"container", r.Container,
		"gc_runs", r.Registry.GCRuns,
		"freed", r.Registry.Freed,
		"requeued", r.Registry.Requeued,
		"retired", r.Registry.Retired)
}

// run drives the producer/consumer workload and collects the report.
//
// Producers insert their values in sequence, retrying capacity errors
// (ErrFull, ErrAllocFailed) until the consumers drain headroom free.
// Consumers remove until every inserted value is accounted for. A
// watchdog flips the shared stop flag if the run outlives the timeout,
// which is how a lost value surfaces as a verification failure instead
// of a hang.
func (w workload) run(reg *lockfree.Registry, tgt target) (*report, error) {
	total := uint64(w.Threads) * uint64(w.Ops)

	var (
		inserted atomic.Uint64
		removed  atomic.Uint64
		retries  atomic.Uint64
		stop     atomic.Bool
		timedOut atomic.Bool

		errMu  sync.Mutex
		runErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if runErr == nil {
			runErr = err
		}
		errMu.Unlock()
		stop.Store(true)
	}

	watchdog := time.AfterFunc(w.Timeout, func() {
		timedOut.Store(true)
		stop.Store(true)
	})
	defer watchdog.Stop()

	w.Log.Info("run starting",
		"container", tgt.name,
		"producers", w.Threads,
		"consumers", w.Threads,
		"values", total)

	collected := make([][]uint64, w.Threads)
	var wg sync.WaitGroup
	start := time.Now()

	for c := 0; c < w.Threads; c++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			th, err := reg.Register()
			if err != nil {
				fail(fmt.Errorf("consumer %d: %w", idx, err))
				return
			}
			defer th.Unregister()

			local := make([]uint64, 0, w.Ops)
			for !stop.Load() {
				if v, ok := tgt.remove(th); ok {
					local = append(local, v)
					if removed.Add(1) == total {
						break
					}
					continue
				}
				if removed.Load() >= total {
					break
				}
				runtime.Gosched()
			}
			collected[idx] = local
		}(c)
	}

	for p := 0; p < w.Threads; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			th, err := reg.Register()
			if err != nil {
				fail(fmt.Errorf("producer %d: %w", id, err))
				return
			}
			defer th.Unregister()

			for seq := 1; seq <= w.Ops; seq++ {
				v := encodeValue(id, seq)
				for {
					if stop.Load() {
						return
					}
					err := tgt.insert(th, v)
					if err == nil {
						inserted.Add(1)
						break
					}
					if !errors.Is(err, lockfree.ErrFull) && !errors.Is(err, lockfree.ErrAllocFailed) {
						fail(fmt.Errorf("producer %d: insert: %w", id, err))
						return
					}
					retries.Add(1)
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()
	elapsed := time.Since(start)

	errMu.Lock()
	err := runErr
	errMu.Unlock()
	if err != nil {
		return nil, err
	}

	rep := &report{
		Container: tgt.name,
		Workers:   2 * w.Threads,
		Inserted:  inserted.Load(),
		Removed:   removed.Load(),
		FinalSize: tgt.size(),
		Retries:   retries.Load(),
		TimedOut:  timedOut.Load(),
		Elapsed:   elapsed,
		Registry:  reg.Stats(),
	}

	seen := make(map[uint64]int, total)
	for _, local := range collected {
		for _, v := range local {
			seen[v]++
		}
	}
	for v, n := range seen {
		if n > 1 {
			rep.Duplicates += n - 1
		}
		producer, seq := decodeValue(v)
		if producer >= w.Threads || seq == 0 || seq > w.Ops {
			rep.Invented++
		}
	}
	rep.Missing = int(rep.Inserted) - len(seen) - rep.FinalSize

	return rep, nil
}

// runTable drives the hash-table churn workload. The producer/consumer
// driver does not fit a keyed container (consumers cannot discover
// keys), so each worker owns a disjoint key range and walks it through
// insert, cross-checked lookups, and removal. Conservation still holds:
// every successful insert is matched by exactly one successful remove.
func runTableChurn(w workload, reg *lockfree.Registry, tbl *lockfree.Table[uint64, uint64]) (*report, error) {
	total := uint64(w.Threads) * uint64(w.Ops)

	var (
		inserted  atomic.Uint64
		removed   atomic.Uint64
		retries   atomic.Uint64
		badValues atomic.Uint64
		stop      atomic.Bool
		timedOut  atomic.Bool

		errMu  sync.Mutex
		runErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if runErr == nil {
			runErr = err
		}
		errMu.Unlock()
		stop.Store(true)
	}

	watchdog := time.AfterFunc(w.Timeout, func() {
		timedOut.Store(true)
		stop.Store(true)
	})
	defer watchdog.Stop()

	w.Log.Info("run starting",
		"container", "table",
		"workers", w.Threads,
		"keys", total)

	var wg sync.WaitGroup
	start := time.Now()

	for p := 0; p < w.Threads; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			th, err := reg.Register()
			if err != nil {
				fail(fmt.Errorf("worker %d: %w", id, err))
				return
			}
			defer th.Unregister()

			for seq := 1; seq <= w.Ops; seq++ {
				if stop.Load() {
					return
				}
				k := encodeValue(id, seq)

				for {
					err := tbl.Insert(th, k, k^valueMask)
					if err == nil {
						inserted.Add(1)
						break
					}
					if !errors.Is(err, lockfree.ErrAllocFailed) {
						fail(fmt.Errorf("worker %d: insert: %w", id, err))
						return
					}
					if stop.Load() {
						return
					}
					retries.Add(1)
					runtime.Gosched()
				}

				// Read back our own key, then a neighbor's key that
				// another worker may be inserting or removing mid-walk.
				if v, ok := tbl.Get(th, k); !ok || v != k^valueMask {
					badValues.Add(1)
				}
				neighbor := encodeValue((id+1)%w.Threads, seq)
				if v, ok := tbl.Get(th, neighbor); ok && v != neighbor^valueMask {
					badValues.Add(1)
				}

				if v, ok := tbl.Remove(th, k); ok {
					if v != k^valueMask {
						badValues.Add(1)
					}
					removed.Add(1)
				} else {
					// The key belongs to this worker alone; a failed
					// remove means the table lost it.
					badValues.Add(1)
				}
			}
		}(p)
	}

	wg.Wait()
	elapsed := time.Since(start)

	errMu.Lock()
	err := runErr
	errMu.Unlock()
	if err != nil {
		return nil, err
	}

	return &report{
		Container: "table",
		Workers:   w.Threads,
		Inserted:  inserted.Load(),
		Removed:   removed.Load(),
		FinalSize: tbl.Size(),
		BadValues: int(badValues.Load()),
		Retries:   retries.Load(),
		TimedOut:  timedOut.Load(),
		Elapsed:   elapsed,
		Registry:  reg.Stats(),
	}, nil
}

// valueMask flips value bits away from their key so a lookup returning
// the key itself (a chain mixup) is caught as a mismatch.
const valueMask = 0x5a5a5a5a5a5a5a5a
