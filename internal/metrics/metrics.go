package metrics

import (
	"expvar"
	"sync/atomic"
	"time"
)

// Metrics tracks pool and engine performance metrics.
type Metrics struct {
	// Pool allocation
	AllocCount      *expvar.Int
	FreeCount       *expvar.Int
	ReuseCount      *expvar.Int // allocations satisfied from the free list
	RecoveredCount  *expvar.Int
	BytesAllocated  *expvar.Int
	BytesFreed      *expvar.Int
	BytesRecovered  *expvar.Int
	OutOfSpaceCount *expvar.Int

	// Operations
	GetCount *expvar.Int
	PutCount *expvar.Int
	DelCount *expvar.Int

	// Latencies (microseconds)
	GetLatency *expvar.Float
	PutLatency *expvar.Float
	DelLatency *expvar.Float

	// WAL metrics
	WALAppends *expvar.Int
	WALBytes   *expvar.Int
	WALReplays *expvar.Int

	// Memtable metrics
	MemtableFlips atomic.Int64
	ArenaBytes    atomic.Int64
}

var GlobalMetrics *Metrics

func init() {
	GlobalMetrics = NewMetrics()
}

func NewMetrics() *Metrics {
	m := &Metrics{
		AllocCount:      expvar.NewInt("nvm_alloc_count"),
		FreeCount:       expvar.NewInt("nvm_free_count"),
		ReuseCount:      expvar.NewInt("nvm_reuse_count"),
		RecoveredCount:  expvar.NewInt("nvm_recovered_count"),
		BytesAllocated:  expvar.NewInt("nvm_bytes_allocated"),
		BytesFreed:      expvar.NewInt("nvm_bytes_freed"),
		BytesRecovered:  expvar.NewInt("nvm_bytes_recovered"),
		OutOfSpaceCount: expvar.NewInt("nvm_out_of_space"),

		GetCount: expvar.NewInt("ops_get"),
		PutCount: expvar.NewInt("ops_put"),
		DelCount: expvar.NewInt("ops_del"),

		GetLatency: expvar.NewFloat("lat_get_us"),
		PutLatency: expvar.NewFloat("lat_put_us"),
		DelLatency: expvar.NewFloat("lat_del_us"),

		WALAppends: expvar.NewInt("wal_appends"),
		WALBytes:   expvar.NewInt("wal_bytes"),
		WALReplays: expvar.NewInt("wal_replays"),
	}
	return m
}

// RecordAlloc records a successful pool allocation. reused reports whether
// the request was satisfied from the free-extent list.
func (m *Metrics) RecordAlloc(bytes int64, reused bool) {
	m.AllocCount.Add(1)
	m.BytesAllocated.Add(bytes)
	if reused {
		m.ReuseCount.Add(1)
	}
}

// RecordFree records a released sub-allocation.
func (m *Metrics) RecordFree(bytes int64) {
	m.FreeCount.Add(1)
	m.BytesFreed.Add(bytes)
}

// RecordRecovered records a sub-allocation rebuilt during recovery.
func (m *Metrics) RecordRecovered(bytes int64) {
	m.RecoveredCount.Add(1)
	m.BytesRecovered.Add(bytes)
}

// RecordOp records an operation with latency.
func (m *Metrics) RecordOp(op string, latency time.Duration) {
	latencyUs := float64(latency.Microseconds())

	switch op {
	case "get":
		m.GetCount.Add(1)
		m.GetLatency.Set(latencyUs)
	case "put":
		m.PutCount.Add(1)
		m.PutLatency.Set(latencyUs)
	case "del":
		m.DelCount.Add(1)
		m.DelLatency.Set(latencyUs)
	}
}

// RecordWALAppend records one appended log record.
func (m *Metrics) RecordWALAppend(bytes int64) {
	m.WALAppends.Add(1)
	m.WALBytes.Add(bytes)
}

// RecordWALReplay records one replay pass.
func (m *Metrics) RecordWALReplay() {
	m.WALReplays.Add(1)
}
