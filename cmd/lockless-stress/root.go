// Package main implements the lockless-stress CLI tool.
//
// lockless-stress drives configurable multi-producer multi-consumer
// workloads against each lock-free container and verifies the results:
//
//  1. Spawning N producer and N consumer goroutines, each registered
//     with one shared hazard-pointer registry
//  2. Pushing a known set of distinct values through the container
//  3. Checking conservation (inserted = removed + resident) and value
//     integrity (no duplicates, no losses, no invented values)
//
// Usage:
//
//	lockless-stress queue --threads 8 --ops 200000
//	lockless-stress stack --arena pool --pool-cap 4096
//	lockless-stress ring --capacity 512
//	lockless-stress table --buckets 2048 --log-format json
//
// Configuration resolves with flag > environment > config file > default
// precedence. Every flag maps to a LOCKLESS_* environment variable
// (LOCKLESS_THREADS, LOCKLESS_ARENA, ...) and a key in an optional
// .lockless-stress.yml file.
//
// The exit code is 0 when every verification passes and 1 otherwise.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kolkov/lockless/internal/logging"
	"github.com/kolkov/lockless/lockfree"
)

var cfgFile string

// rootCmd is the base command; every container subcommand hangs off it.
var rootCmd = &cobra.Command{
	Use:   "lockless-stress",
	Short: "Stress and verify the lockless containers",
	Long: `lockless-stress runs concurrent workloads against the lock-free
containers (queue, stack, ring buffer, hash table) and verifies that no
value is lost, duplicated, or invented under contention.

Each run registers all workers with one hazard-pointer registry, drives
distinct values through the chosen container, and checks conservation:
every successfully inserted value is either removed exactly once or
still resident when the run ends.

Quick Start:
  lockless-stress queue                      Stress the FIFO queue
  lockless-stress stack --threads 8          Stress the stack with 8+8 workers
  lockless-stress ring --capacity 512        Stress a 512-slot ring buffer
  lockless-stress table --arena pool         Stress the table on a pooled arena
  lockless-stress version                    Show version information

Configuration precedence: flags > LOCKLESS_* environment variables >
.lockless-stress.yml > defaults.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is the only entry point main calls.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .lockless-stress.yml)")
	pf.IntP("threads", "t", 4, "producer goroutines (and as many consumers)")
	pf.IntP("ops", "n", 100000, "values each producer inserts")
	pf.String("arena", "heap", "node source: heap or pool")
	pf.Uint32("pool-cap", 4096, "slot count for --arena pool")
	pf.Uint32("retire-threshold", 0, "retired nodes per GC pass (0 = registry default)")
	pf.Duration("timeout", time.Minute, "watchdog: abort a run that stops making progress")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")

	viper.BindPFlag("threads", pf.Lookup("threads"))
	viper.BindPFlag("ops", pf.Lookup("ops"))
	viper.BindPFlag("arena", pf.Lookup("arena"))
	viper.BindPFlag("pool-cap", pf.Lookup("pool-cap"))
	viper.BindPFlag("retire-threshold", pf.Lookup("retire-threshold"))
	viper.BindPFlag("timeout", pf.Lookup("timeout"))
	viper.BindPFlag("log-level", pf.Lookup("log-level"))
	viper.BindPFlag("log-format", pf.Lookup("log-format"))
}

// initConfig wires the configuration sources: an explicit --config file,
// a LOCKLESS_CONFIG_FILE override, or a .lockless-stress.yml found in
// the working directory, plus automatic LOCKLESS_* environment binding.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LOCKLESS_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lockless-stress")
	}

	viper.SetEnvPrefix("LOCKLESS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// A missing or unreadable config file is not an error; flags and
	// environment still apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// stressConfig is the resolved knob set shared by every subcommand.
type stressConfig struct {
	Threads         int
	Ops             int
	Arena           string
	PoolCap         uint32
	RetireThreshold uint32
	Timeout         time.Duration
}

// resolveConfig validates the viper state and builds the logger. Every
// subcommand calls it first, so a bad flag fails before any goroutine
// starts.
func resolveConfig() (*stressConfig, logging.Logger, error) {
	cfg := &stressConfig{
		Threads:         viper.GetInt("threads"),
		Ops:             viper.GetInt("ops"),
		Arena:           strings.ToLower(viper.GetString("arena")),
		PoolCap:         viper.GetUint32("pool-cap"),
		RetireThreshold: viper.GetUint32("retire-threshold"),
		Timeout:         viper.GetDuration("timeout"),
	}

	if cfg.Threads < 1 {
		return nil, nil, fmt.Errorf("invalid --threads %d: need at least 1", cfg.Threads)
	}
	if cfg.Ops < 1 {
		return nil, nil, fmt.Errorf("invalid --ops %d: need at least 1", cfg.Ops)
	}
	switch cfg.Arena {
	case "heap", "pool":
	default:
		return nil, nil, fmt.Errorf("invalid --arena %q: want heap or pool", cfg.Arena)
	}
	if cfg.Timeout <= 0 {
		return nil, nil, fmt.Errorf("invalid --timeout %v: must be positive", cfg.Timeout)
	}

	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(&logging.Config{
		Level:  level,
		Format: viper.GetString("log-format"),
	})

	return cfg, log, nil
}

// source maps the arena flag onto a container node source.
func (c *stressConfig) source() lockfree.Source {
	if c.Arena == "pool" {
		return lockfree.PoolArena(c.PoolCap)
	}
	return lockfree.HeapArena()
}

// registry builds the shared hazard registry for one run, sized so every
// producer and consumer can register, with GC passes reported at debug
// level.
func (c *stressConfig) registry(log logging.Logger) *lockfree.Registry {
	maxThreads := uint32(2*c.Threads + 2)
	if maxThreads < lockfree.DefaultMaxThreads {
		maxThreads = lockfree.DefaultMaxThreads
	}
	return lockfree.NewRegistry(lockfree.Config{
		MaxThreads:      maxThreads,
		RetireThreshold: c.RetireThreshold,
		OnGC: func(st lockfree.GCStats) {
			log.Debug("gc pass",
				"scanned", st.Scanned,
				"freed", st.Freed,
				"requeued", st.Requeued)
		},
	})
}
