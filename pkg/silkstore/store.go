// Package silkstore exposes the engine's write path: WAL shards carved
// from the pool's log region plus a memtable whose values are staged in
// the general region. Compaction, SSTables and the on-disk read path are
// separate components; here a Get that misses the memtable is simply a
// miss.
package silkstore

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arthurzhang/silkstore/internal/memtable"
	"github.com/arthurzhang/silkstore/internal/metrics"
	"github.com/arthurzhang/silkstore/internal/nvm"
	"github.com/arthurzhang/silkstore/internal/wal"
)

// logShard pairs a shard's writer with the sequence number of its last
// record, which decides when a sealed shard is covered by flushed state.
type logShard struct {
	w       *wal.LogWriter
	lastSeq uint64
}

// Store represents the silkstore key-value store.
type Store struct {
	mu      sync.Mutex // serializes log appends and staging bookkeeping
	config  *metrics.Config
	metrics *metrics.Metrics
	pool    *nvm.Pool
	logs    []*logShard // retained log shards, active last
	mt      *memtable.Memtable

	seq     uint64
	flipSeq uint64 // highest seq sealed into the immutable memtable
	hasImm  bool
	staging []*nvm.Mem // staging sub-allocations backing memtable arenas, oldest first
}

// Open creates a store with a fresh pool and log shard.
func Open(config *metrics.Config) (*Store, error) {
	s, err := open(config)
	if err != nil {
		return nil, err
	}
	if err := s.newShard(); err != nil {
		s.pool.Close()
		return nil, err
	}
	s.initMemtable()
	return s, nil
}

// OpenWithRecovery reopens a store over an existing pool image. The staging
// markers rebuild the pool's live-range bookkeeping; the log markers' shards
// are then replayed in order into a fresh memtable, and appending resumes
// after the last intact record of the newest shard.
func OpenWithRecovery(config *metrics.Config, logMarkers []nvm.Marker, staging []nvm.Marker) (*Store, error) {
	s, err := open(config)
	if err != nil {
		return nil, err
	}
	recovered, err := s.pool.Recover(staging)
	if err != nil {
		s.pool.Close()
		return nil, errors.Wrap(err, "recovering staging markers")
	}
	s.initMemtable()
	for _, lm := range logMarkers {
		shard := &logShard{}
		shard.w, err = wal.Replay(s.pool, lm, func(rec *wal.Record) error {
			if rec.SeqNum > s.seq {
				s.seq = rec.SeqNum
			}
			shard.lastSeq = rec.SeqNum
			switch rec.Type {
			case wal.RecordDelete:
				return s.mt.Delete(rec.Key, rec.SeqNum)
			default:
				return s.mt.Put(rec.Key, rec.Value, rec.SeqNum)
			}
		})
		if err != nil {
			s.pool.Close()
			return nil, errors.Wrap(err, "replaying log shard")
		}
		s.logs = append(s.logs, shard)
	}
	if len(s.logs) == 0 {
		if err := s.newShard(); err != nil {
			s.pool.Close()
			return nil, err
		}
	}
	if s.mt.HasImmutable() {
		// The replay itself flipped the memtable. The exact sealed
		// boundary is unknown, so no shard is considered covered until
		// the next flip observed through Put.
		s.hasImm = true
	}
	// The replay rebuilt every staged value into fresh arenas, so the
	// previous session's staging regions can go back to the pool.
	for _, m := range recovered {
		if err := s.pool.Free(m); err != nil {
			s.pool.Close()
			return nil, errors.Wrap(err, "releasing recovered staging region")
		}
	}
	return s, nil
}

func open(config *metrics.Config) (*Store, error) {
	if config == nil {
		config = metrics.DefaultConfig()
	}

	pool, err := nvm.Open(nvm.Options{
		Path:     config.PoolPath,
		PoolSize: uint64(config.PoolSizeMB) << 20,
		LogSize:  uint64(config.LogSizeMB) << 20,
		Backend:  nvm.BackendKind(config.Backend),
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		config:  config,
		metrics: metrics.GlobalMetrics,
		pool:    pool,
	}, nil
}

// initMemtable wires the memtable's staging arenas to sub-allocations in
// the pool's general region. Called only after any recovery has settled
// the pool's live ranges.
func (s *Store) initMemtable() {
	arenaSize := s.config.ArenaMB << 20
	s.mt = memtable.NewMemtableWithSource(arenaSize, func() *memtable.Arena {
		m, err := s.pool.Allocate(uint64(arenaSize))
		if err != nil {
			// General region exhausted: stage on the heap so writes keep
			// flowing; durability still comes from the WAL.
			return memtable.NewArena(arenaSize)
		}
		buf, err := m.View(0, m.Size())
		if err != nil {
			return memtable.NewArena(arenaSize)
		}
		s.staging = append(s.staging, m)
		return memtable.NewArenaBuffer(buf)
	})
}

// newShard carves the next log shard from the pool and makes it active.
func (s *Store) newShard() error {
	w, err := wal.NewLogWriter(s.pool, uint64(s.config.LogShardKB)<<10)
	if err != nil {
		return err
	}
	s.logs = append(s.logs, &logShard{w: w})
	return nil
}

// appendLocked appends rec to the active shard, sealing it and rotating to
// a fresh one when full. A record larger than a whole shard is an error.
func (s *Store) appendLocked(rec *wal.Record) error {
	active := s.logs[len(s.logs)-1]
	_, err := active.w.Append(rec)
	if nvm.IsOutOfSpace(err) {
		if err = s.newShard(); err != nil {
			return errors.Wrap(err, "rotating log shard")
		}
		active = s.logs[len(s.logs)-1]
		_, err = active.w.Append(rec)
	}
	if err != nil {
		return errors.Wrap(err, "appending to log shard")
	}
	active.lastSeq = rec.SeqNum
	return nil
}

// noteFlipLocked records the sealed sequence boundary when the memtable
// flipped during the preceding insert. Every record at or below the
// boundary lives in the immutable (or an already flushed) memtable.
func (s *Store) noteFlipLocked() {
	if !s.hasImm && s.mt.HasImmutable() {
		s.hasImm = true
		s.flipSeq = s.seq - 1
	}
}

// Put stores a key-value pair: WAL first, then the memtable.
func (s *Store) Put(key, val []byte) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := &wal.Record{Type: wal.RecordPut, Key: key, Value: val, SeqNum: s.seq}
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	if err := s.mt.Put(key, val, s.seq); err != nil {
		return err
	}
	s.noteFlipLocked()
	s.metrics.RecordOp("put", time.Since(start))
	return nil
}

// Get retrieves a value by key from the memtable.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	start := time.Now()
	val, ok := s.mt.Get(key)
	s.metrics.RecordOp("get", time.Since(start))
	return val, ok, nil
}

// Delete removes a key.
func (s *Store) Delete(key []byte) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := &wal.Record{Type: wal.RecordDelete, Key: key, SeqNum: s.seq}
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	if err := s.mt.Delete(key, s.seq); err != nil {
		return err
	}
	s.metrics.RecordOp("del", time.Since(start))
	return nil
}

// Flush discards the immutable memtable, standing in for its migration
// into segments. The oldest staging sub-allocation goes back to the pool,
// and so do sealed log shards whose records all sit at or below the
// flushed sequence boundary.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if imm := s.mt.PopImmutable(); imm == nil {
		return nil
	}
	s.hasImm = false
	for len(s.logs) > 1 && s.logs[0].lastSeq <= s.flipSeq {
		if err := s.pool.Free(s.logs[0].w.Handle()); err != nil {
			return errors.Wrap(err, "releasing retired log shard")
		}
		s.logs = s.logs[1:]
	}
	if len(s.staging) > 1 {
		oldest := s.staging[0]
		s.staging = s.staging[1:]
		if err := s.pool.Free(oldest); err != nil {
			return errors.Wrap(err, "releasing staging region")
		}
	}
	return nil
}

// LogMarkers returns the recovery markers of every retained log shard,
// oldest first. The engine persists them (plus the staging markers) before
// acknowledging writes that depend on recovery.
func (s *Store) LogMarkers() []nvm.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nvm.Marker, len(s.logs))
	for i, sh := range s.logs {
		out[i] = sh.w.Marker()
	}
	return out
}

// StagingMarkers returns the markers of all live staging sub-allocations.
func (s *Store) StagingMarkers() []nvm.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nvm.Marker, len(s.staging))
	for i, m := range s.staging {
		out[i] = m.Marker()
	}
	return out
}

// Info returns the pool utilization snapshot.
func (s *Store) Info() nvm.PoolInfo { return s.pool.Info() }

// Close releases the pool mapping.
func (s *Store) Close() error { return s.pool.Close() }
