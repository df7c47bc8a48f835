package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/lockless/lockfree"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Stress the lock-free FIFO queue",
	Long: `Drive the Michael-Scott queue with --threads producers and --threads
consumers moving --threads x --ops distinct values, then verify that
every value came out exactly once.`,
	RunE: runQueueStress,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueueStress(_ *cobra.Command, _ []string) error {
	cfg, log, err := resolveConfig()
	if err != nil {
		return err
	}
	reg := cfg.registry(log)

	q, err := lockfree.NewQueue[uint64](reg, cfg.source())
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	w := workload{Threads: cfg.Threads, Ops: cfg.Ops, Timeout: cfg.Timeout, Log: log}
	rep, err := w.run(reg, target{
		name:   "queue",
		insert: func(th *lockfree.Thread, v uint64) error { return q.Enqueue(th, v) },
		remove: func(th *lockfree.Thread) (uint64, bool) { return q.Dequeue(th) },
		size:   q.Size,
	})
	if err != nil {
		return err
	}
	rep.log(log)
	return rep.verify()
}
