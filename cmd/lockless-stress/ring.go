package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kolkov/lockless/lockfree"
)

var ringCmd = &cobra.Command{
	Use:   "ring",
	Short: "Stress the bounded lock-free ring buffer",
	Long: `Drive the bounded MPMC ring with --threads producers and --threads
consumers moving --threads x --ops distinct values, then verify that
every value came out exactly once.

A ring of --capacity slots accepts capacity-1 values; producers spin on
a full buffer until consumers drain headroom free. Ring values travel
through the garbage collector rather than the hazard-pointer registry,
so the registry counters in the summary stay zero.`,
	RunE: runRingStress,
}

func init() {
	ringCmd.Flags().Uint32("capacity", 1024, "ring slot count (one slot stays vacant)")
	viper.BindPFlag("capacity", ringCmd.Flags().Lookup("capacity"))
	rootCmd.AddCommand(ringCmd)
}

func runRingStress(_ *cobra.Command, _ []string) error {
	cfg, log, err := resolveConfig()
	if err != nil {
		return err
	}
	reg := cfg.registry(log)

	r, err := lockfree.NewRing[uint64](viper.GetUint32("capacity"))
	if err != nil {
		return fmt.Errorf("create ring: %w", err)
	}

	w := workload{Threads: cfg.Threads, Ops: cfg.Ops, Timeout: cfg.Timeout, Log: log}
	rep, err := w.run(reg, target{
		name:   "ring",
		insert: func(_ *lockfree.Thread, v uint64) error { return r.Enqueue(v) },
		remove: func(_ *lockfree.Thread) (uint64, bool) { return r.Dequeue() },
		size:   r.Size,
	})
	if err != nil {
		return err
	}
	rep.log(log)
	return rep.verify()
}
