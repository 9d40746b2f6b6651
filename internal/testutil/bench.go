package testutil

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// ZipfGenerator generates indexes following a Zipfian distribution, used to
// skew sub-allocation size classes the way real staging workloads do (many
// small log shards, few large staging tables).
type ZipfGenerator struct {
	zipf *big.Int
	seed int64
	n    int64
	s    float64
	v    float64
}

// NewZipfGenerator creates a new Zipfian generator.
// n: index space size, s: skewness (higher = more skew)
func NewZipfGenerator(n int64, s float64, seed int64) *ZipfGenerator {
	return &ZipfGenerator{
		n:    n,
		s:    s,
		seed: seed,
		zipf: big.NewInt(seed),
		v:    math.Pow(math.E, -1.0/s),
	}
}

// Next returns the next index in the Zipfian distribution.
func (z *ZipfGenerator) Next() int64 {
	// Simple inverse CDF method for Zipfian
	u := z.nextRandom()
	x := int64((float64(z.n) * u) + 1)
	// Apply power-law skew
	skewed := math.Pow(float64(x)/float64(z.n), z.s)
	return int64(skewed * float64(z.n))
}

func (z *ZipfGenerator) nextRandom() float64 {
	z.zipf.Add(z.zipf, big.NewInt(1103515245))
	z.zipf.Mul(z.zipf, big.NewInt(12345))
	z.zipf.Mod(z.zipf, big.NewInt(1<<31))
	return float64(z.zipf.Int64()) / (1 << 31)
}

// WorkloadType represents different allocator workload patterns.
type WorkloadType int

const (
	WorkloadAppend    WorkloadType = iota // 100% log appends
	WorkloadMixed                         // 70% append, 20% alloc, 10% free
	WorkloadAllocFree                     // 50% alloc, 50% free (fragmentation stress)
	WorkloadStaging                       // alloc-heavy: 80% alloc, 20% free
)

// Op names produced by the generator.
const (
	OpAppend = "APPEND"
	OpAlloc  = "ALLOC"
	OpFree   = "FREE"
)

// WorkloadGenerator generates allocator operations according to a workload
// mix. ALLOC sizes are drawn from a Zipfian over size classes; APPEND
// payloads are valueSize random bytes.
type WorkloadGenerator struct {
	rng       *RandSeeded
	sizeGen   *ZipfGenerator
	workload  WorkloadType
	valueSize int
	numOps    int
	opCount   int
	sizeClass int64 // allocation granularity in bytes
}

// NewWorkloadGenerator creates a new workload generator. numClasses is the
// number of allocation size classes; an ALLOC of class k requests
// k*classBytes bytes.
func NewWorkloadGenerator(workload WorkloadType, seed int64, numClasses int64, valueSize int, skew float64) *WorkloadGenerator {
	return &WorkloadGenerator{
		rng:       NewRandSeeded(seed),
		sizeGen:   NewZipfGenerator(numClasses, skew, seed),
		workload:  workload,
		valueSize: valueSize,
		numOps:    1000000, // default
		sizeClass: 4096,
	}
}

// SetNumOps sets the total number of operations to generate.
func (wg *WorkloadGenerator) SetNumOps(n int) {
	wg.numOps = n
}

// SetSizeClass sets the allocation granularity in bytes.
func (wg *WorkloadGenerator) SetSizeClass(n int64) {
	wg.sizeClass = n
}

// Next generates the next operation. For ALLOC, size is the requested
// sub-allocation size; for APPEND, payload holds the bytes to insert; FREE
// targets whichever live sub-allocation the driver picks.
func (wg *WorkloadGenerator) Next() (op string, size uint64, payload []byte, err error) {
	if wg.opCount >= wg.numOps {
		return "", 0, nil, fmt.Errorf("workload exhausted")
	}
	wg.opCount++

	r := wg.rng.Float64()
	switch wg.workload {
	case WorkloadAppend:
		op = OpAppend
	case WorkloadMixed:
		switch {
		case r < 0.7:
			op = OpAppend
		case r < 0.9:
			op = OpAlloc
		default:
			op = OpFree
		}
	case WorkloadAllocFree:
		if r < 0.5 {
			op = OpAlloc
		} else {
			op = OpFree
		}
	case WorkloadStaging:
		if r < 0.8 {
			op = OpAlloc
		} else {
			op = OpFree
		}
	}

	switch op {
	case OpAppend:
		payload = make([]byte, wg.valueSize)
		rand.Read(payload)
	case OpAlloc:
		class := wg.sizeGen.Next()
		if class < 1 {
			class = 1
		}
		size = uint64(class) * uint64(wg.sizeClass)
	}

	return op, size, payload, nil
}

// RandSeeded is a simple seeded RNG for deterministic randomness.
type RandSeeded struct {
	state int64
}

func NewRandSeeded(seed int64) *RandSeeded {
	return &RandSeeded{state: seed}
}

func (r *RandSeeded) Int() int64 {
	r.state = ((r.state * 1103515245) + 12345) & 0x7fffffff
	return r.state
}

func (r *RandSeeded) Float64() float64 {
	return float64(r.Int()) / (1 << 31)
}

// BenchStats tracks benchmark statistics.
type BenchStats struct {
	TotalOps     int64
	TotalLatency time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
	Latencies    []time.Duration
}

func NewBenchStats() *BenchStats {
	return &BenchStats{
		MinLatency: time.Hour,
	}
}

func (bs *BenchStats) Record(op string, latency time.Duration) {
	bs.TotalOps++
	bs.TotalLatency += latency
	if latency < bs.MinLatency {
		bs.MinLatency = latency
	}
	if latency > bs.MaxLatency {
		bs.MaxLatency = latency
	}
	bs.Latencies = append(bs.Latencies, latency)
}

func (bs *BenchStats) OpsPerSec() float64 {
	if bs.TotalLatency == 0 {
		return 0
	}
	return float64(bs.TotalOps) / bs.TotalLatency.Seconds()
}

// CalculatePercentile calculates the p-th percentile latency.
func (bs *BenchStats) CalculatePercentile(p float64) time.Duration {
	if len(bs.Latencies) == 0 {
		return 0
	}

	idx := int(float64(len(bs.Latencies)) * p / 100.0)
	if idx >= len(bs.Latencies) {
		idx = len(bs.Latencies) - 1
	}
	return bs.Latencies[idx]
}

// Print prints benchmark statistics.
func (bs *BenchStats) Print(logger *Logger) {
	avg := time.Duration(0)
	if bs.TotalOps > 0 {
		avg = bs.TotalLatency / time.Duration(bs.TotalOps)
	}

	logger.Info("Benchmark Results:")
	logger.Info("  Total Ops: %d", bs.TotalOps)
	logger.Info("  Avg Latency: %v", avg)
	logger.Info("  Min Latency: %v", bs.MinLatency)
	logger.Info("  Max Latency: %v", bs.MaxLatency)
	logger.Info("  Throughput: %.2f ops/sec", bs.OpsPerSec())

	if len(bs.Latencies) > 0 {
		logger.Info("  P50: %v", bs.CalculatePercentile(50))
		logger.Info("  P95: %v", bs.CalculatePercentile(95))
		logger.Info("  P99: %v", bs.CalculatePercentile(99))
	}
}

// LogConfig writes a debug info.
func LogConfig(logger *Logger, cfg interface{}) {
	logger.Debug("Configuration: %+v", cfg)
}

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// TempDir creates a temporary directory for tests.
func TempDir() (string, error) {
	return os.MkdirTemp("", "silkstore-test-*")
}

// CleanupDir removes a directory and all its contents.
func CleanupDir(path string) error {
	return os.RemoveAll(path)
}

// WriteTestFile writes test data to a file.
func WriteTestFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// ReadLines reads all lines from a file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
