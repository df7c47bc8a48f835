package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kolkov/lockless/lockfree"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Stress the lock-free hash table",
	Long: `Churn the chained hash table with --threads workers, each walking a
disjoint range of --ops keys through insert, lookup, and remove while
its neighbors mutate adjacent chains. Verifies that every insert is
matched by one remove, that lookups return the stored value, and that
the table ends empty.`,
	RunE: runTableStress,
}

func init() {
	tableCmd.Flags().Uint32("buckets", 1024, "hash table bucket count")
	viper.BindPFlag("buckets", tableCmd.Flags().Lookup("buckets"))
	rootCmd.AddCommand(tableCmd)
}

func runTableStress(_ *cobra.Command, _ []string) error {
	cfg, log, err := resolveConfig()
	if err != nil {
		return err
	}
	reg := cfg.registry(log)

	tbl, err := lockfree.NewTable[uint64, uint64](reg, viper.GetUint32("buckets"), cfg.source())
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	w := workload{Threads: cfg.Threads, Ops: cfg.Ops, Timeout: cfg.Timeout, Log: log}
	rep, err := runTableChurn(w, reg, tbl)
	if err != nil {
		return err
	}
	rep.log(log)
	return rep.verify()
}
