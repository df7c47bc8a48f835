package main

import (
	"github.com/spf13/cobra"

	"github.com/kolkov/lockless/lockfree"
)

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Stress the lock-free LIFO stack",
	Long: `Drive the Treiber stack with --threads producers and --threads
consumers moving --threads x --ops distinct values, then verify that
every value came out exactly once.`,
	RunE: runStackStress,
}

func init() {
	rootCmd.AddCommand(stackCmd)
}

func runStackStress(_ *cobra.Command, _ []string) error {
	cfg, log, err := resolveConfig()
	if err != nil {
		return err
	}
	reg := cfg.registry(log)

	s := lockfree.NewStack[uint64](reg, cfg.source())

	w := workload{Threads: cfg.Threads, Ops: cfg.Ops, Timeout: cfg.Timeout, Log: log}
	rep, err := w.run(reg, target{
		name:   "stack",
		insert: func(_ *lockfree.Thread, v uint64) error { return s.Push(v) },
		remove: func(th *lockfree.Thread) (uint64, bool) { return s.Pop(th) },
		size:   s.Size,
	})
	if err != nil {
		return err
	}
	rep.log(log)
	return rep.verify()
}
