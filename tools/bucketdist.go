//go:build ignore
// +build ignore

// This tool shows why hash table bucket selection runs hashes through
// Wang's 64-bit finalizer. It places several low-entropy key patterns
// into buckets with and without the mix and prints the load spread.
// Run with: go run tools/bucketdist.go
package main

import (
	"fmt"
	"math"
)

const (
	buckets = 64
	keys    = 4096
)

// mix64 mirrors the finalizer used for bucket selection.
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

type pattern struct {
	name string
	key  func(i uint64) uint64
}

func main() {
	patterns := []pattern{
		{"sequential", func(i uint64) uint64 { return i }},
		{"stride-4096 (pointer-like)", func(i uint64) uint64 { return i * 4096 }},
		{"high-bits only", func(i uint64) uint64 { return i << 48 }},
		{"even only", func(i uint64) uint64 { return i * 2 }},
	}

	fmt.Printf("%d keys into %d buckets, load spread (stddev, min..max):\n\n", keys, buckets)
	fmt.Printf("%-28s %22s %22s\n", "pattern", "raw modulo", "mixed")

	for _, p := range patterns {
		var raw, mixed [buckets]int
		for i := uint64(0); i < keys; i++ {
			k := p.key(i)
			raw[k%buckets]++
			mixed[mix64(k)%buckets]++
		}
		fmt.Printf("%-28s %22s %22s\n", p.name, spread(raw[:]), spread(mixed[:]))
	}

	fmt.Println("\nA uniform placement of", keys, "keys puts", keys/buckets, "in every bucket.")
	fmt.Println("Raw modulo collapses strided and shifted patterns onto a few buckets;")
	fmt.Println("the mix spreads every pattern close to uniform.")
}

func spread(loads []int) string {
	min, max, sum := loads[0], loads[0], 0
	for _, n := range loads {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
		sum += n
	}
	mean := float64(sum) / float64(len(loads))
	var varsum float64
	for _, n := range loads {
		d := float64(n) - mean
		varsum += d * d
	}
	stddev := math.Sqrt(varsum / float64(len(loads)))
	return fmt.Sprintf("%7.1f %5d..%-5d", stddev, min, max)
}
