package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arthurzhang/silkstore/internal/nvm"
	"github.com/arthurzhang/silkstore/internal/testutil"
)

var (
	workloadStr = flag.String("workload", "append", "Workload type (append,mixed,allocfree,staging)")
	poolSizeMB  = flag.Uint64("pool-size-mb", 1024, "Pool size in MB")
	logSizeMB   = flag.Uint64("log-size-mb", 30, "Log region size in MB")
	backend     = flag.String("backend", "heap", "Pool backend (heap,file)")
	poolPath    = flag.String("pool-path", "runs/bench.pool", "Pool file path for the file backend")
	shardKB     = flag.Uint64("shard-kb", 4096, "Log shard size in KB")
	valueSize   = flag.Int("value-size", 256, "Appended payload size in bytes")
	numOps      = flag.Int("num-ops", 100000, "Number of operations")
	numClasses  = flag.Int64("num-classes", 64, "Number of Zipf size classes")
	skew        = flag.Float64("skew", 0.99, "Zipfian skew parameter")
	seed        = flag.Int64("seed", 12345, "Random seed")
	outDir      = flag.String("out", "runs", "Output directory")
)

func main() {
	flag.Parse()

	logger, err := testutil.SetupLogging(fmt.Sprintf("%s/bench.log", *outDir), testutil.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting allocator benchmark")
	logger.Info("  Workload: %s", *workloadStr)
	logger.Info("  Pool: %d MB (%d MB log region, %s backend)", *poolSizeMB, *logSizeMB, *backend)
	logger.Info("  Value Size: %d bytes", *valueSize)
	logger.Info("  Num Ops: %d", *numOps)
	logger.Info("  Skew: %.2f", *skew)
	logger.Info("  Seed: %d", *seed)

	pool, err := nvm.Open(nvm.Options{
		Path:     *poolPath,
		PoolSize: *poolSizeMB << 20,
		LogSize:  *logSizeMB << 20,
		Backend:  nvm.BackendKind(*backend),
	})
	if err != nil {
		logger.Error("Failed to open pool: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	gen := testutil.NewWorkloadGenerator(parseWorkload(*workloadStr), *seed, *numClasses, *valueSize, *skew)
	gen.SetNumOps(*numOps)

	stats := testutil.NewBenchStats()
	timer := testutil.NewTimer("benchmark")

	if err := run(pool, gen, stats); err != nil {
		logger.Error("Benchmark aborted: %v", err)
		os.Exit(1)
	}

	timer.Log(logger)
	stats.Print(logger)
	logger.Info("%s", pool.Info())
	logger.Info("Benchmark complete")
}

// run drives the pool until the generator is exhausted. Appends go through
// a log shard that rotates when full; alloc/free ops keep a working set of
// general-region handles and release the oldest on each free.
func run(pool *nvm.Pool, gen *testutil.WorkloadGenerator, stats *testutil.BenchStats) error {
	var (
		shard   *nvm.Mem
		handles []*nvm.Mem
	)

	freshShard := func() error {
		var err error
		shard, err = pool.AllocateLog(*shardKB << 10)
		return err
	}
	if err := freshShard(); err != nil {
		return err
	}

	for {
		op, size, payload, err := gen.Next()
		if err != nil {
			return nil // generator exhausted
		}

		start := time.Now()
		switch op {
		case testutil.OpAppend:
			_, err = shard.Insert(payload)
			if nvm.IsOutOfSpace(err) {
				if err = pool.Free(shard); err != nil {
					return err
				}
				if err = freshShard(); err != nil {
					return err
				}
				_, err = shard.Insert(payload)
			}
		case testutil.OpAlloc:
			var m *nvm.Mem
			m, err = pool.Allocate(size)
			if err == nil {
				handles = append(handles, m)
			}
		case testutil.OpFree:
			if len(handles) > 0 {
				err = pool.Free(handles[0])
				handles = handles[1:]
			}
		}
		if err != nil {
			return err
		}
		stats.Record(op, time.Since(start))
	}
}

func parseWorkload(s string) testutil.WorkloadType {
	switch s {
	case "mixed":
		return testutil.WorkloadMixed
	case "allocfree":
		return testutil.WorkloadAllocFree
	case "staging":
		return testutil.WorkloadStaging
	default:
		return testutil.WorkloadAppend
	}
}
