// kvbench measures throughput and latency of a kvdb handle under a simple
// put/get/mixed workload, grounded on cmd/tk-bench's flag-driven,
// results-table shape (but measuring this module's own store directly
// rather than shelling out to an external benchmarking tool).
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/finnpan/dbm-sub001/pkg/kvdb"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kvbench: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("kvbench", flag.ContinueOnError)

	location := fs.StringP("location", "l", "*", "kvdb location string to open")
	count := fs.IntP("count", "n", 100_000, "number of records")
	valSize := fs.IntP("value-size", "s", 100, "value size in bytes")
	workload := fs.StringP("workload", "w", "put", "put|get|mixed")

	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := kvdb.Open(*location)
	if err != nil {
		return fmt.Errorf("opening %q: %w", *location, err)
	}
	defer db.Close()

	value := make([]byte, *valSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}

	keys := make([][]byte, *count)
	for i := range keys {
		keys[i] = fmt.Appendf(nil, "bench-key-%09d", i)
	}

	switch *workload {
	case "put":
		return benchPut(db, keys, value)
	case "get":
		if err := benchPut(db, keys, value); err != nil {
			return err
		}

		return benchGet(db, keys)
	case "mixed":
		return benchMixed(db, keys, value)
	default:
		return fmt.Errorf("unknown workload %q", *workload)
	}
}

type latencies []time.Duration

func (l latencies) report(label string, wall time.Duration) {
	sorted := append(latencies(nil), l...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p := func(q float64) time.Duration {
		if len(sorted) == 0 {
			return 0
		}

		idx := int(q * float64(len(sorted)-1))

		return sorted[idx]
	}

	n := len(l)

	fmt.Printf("%-8s n=%-9d wall=%-12s throughput=%.0f ops/s  p50=%-10s p99=%-10s max=%-10s\n",
		label, n, wall.Round(time.Millisecond),
		float64(n)/wall.Seconds(),
		p(0.50).Round(time.Microsecond), p(0.99).Round(time.Microsecond), p(1.0).Round(time.Microsecond))
}

func benchPut(db *kvdb.DB, keys [][]byte, value []byte) error {
	lat := make(latencies, len(keys))
	start := time.Now()

	for i, k := range keys {
		t0 := time.Now()

		if err := db.Put(k, value); err != nil {
			return err
		}

		lat[i] = time.Since(t0)
	}

	lat.report("put", time.Since(start))

	return nil
}

func benchGet(db *kvdb.DB, keys [][]byte) error {
	lat := make(latencies, len(keys))
	start := time.Now()

	for i, k := range keys {
		t0 := time.Now()

		if _, err := db.Get(k); err != nil {
			return err
		}

		lat[i] = time.Since(t0)
	}

	lat.report("get", time.Since(start))

	return nil
}

// benchMixed interleaves puts and gets of already-written keys at a 1:3
// write:read ratio, a common OLTP-ish approximation.
func benchMixed(db *kvdb.DB, keys [][]byte, value []byte) error {
	if err := benchPut(db, keys, value); err != nil {
		return err
	}

	lat := make(latencies, len(keys))
	start := time.Now()

	for i, k := range keys {
		t0 := time.Now()

		var err error
		if i%4 == 0 {
			err = db.Put(k, value)
		} else {
			_, err = db.Get(keys[rand.IntN(len(keys))])
		}

		if err != nil {
			return err
		}

		lat[i] = time.Since(t0)
	}

	lat.report("mixed", time.Since(start))

	return nil
}
