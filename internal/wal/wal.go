// Package wal writes engine mutations into the pool's reserved log region.
// Each log shard is one NVM sub-allocation: records are appended through
// the handle, which persists every append before reporting success, so no
// group-commit or explicit sync step exists here. On restart the engine
// replays its persisted markers and then walks each shard to rebuild state.
package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/arthurzhang/silkstore/internal/metrics"
	"github.com/arthurzhang/silkstore/internal/nvm"
)

// LogWriter appends records into one log-region sub-allocation. Like the
// handle it wraps, a LogWriter is single-writer: one per active log shard.
type LogWriter struct {
	mem *nvm.Mem
}

// NewLogWriter allocates a fresh shard of the given size from the pool's
// log region. The extent is wiped before use: it may be a reused free
// extent (or a remapped pool file) still holding a retired shard's records,
// and replay's end-of-log detection depends on a zeroed tail.
func NewLogWriter(pool *nvm.Pool, size uint64) (*LogWriter, error) {
	mem, err := pool.AllocateLog(size)
	if err != nil {
		return nil, errors.Wrap(err, "allocating log shard")
	}
	if err := mem.Zero(); err != nil {
		return nil, errors.Wrap(err, "wiping log shard")
	}
	return &LogWriter{mem: mem}, nil
}

// Append encodes rec and appends it to the shard, returning the absolute
// pool offset of the record. The bytes are durable when Append returns.
// The shard's logical counter advances by one per record.
func (w *LogWriter) Append(rec *Record) (uint64, error) {
	data := rec.Encode()
	off, err := w.mem.Insert(data)
	if err != nil {
		return 0, err
	}
	w.mem.UpdateCounter(w.mem.GetCounter() + 1)
	metrics.GlobalMetrics.RecordWALAppend(int64(len(data)))
	return off, nil
}

// Records returns the number of records appended or replayed into the shard.
func (w *LogWriter) Records() uint64 { return w.mem.GetCounter() }

// Remaining returns the shard's unwritten capacity.
func (w *LogWriter) Remaining() uint64 { return w.mem.Remaining() }

// Marker returns the recovery marker the engine must persist for this shard.
func (w *LogWriter) Marker() nvm.Marker { return w.mem.Marker() }

// Handle exposes the underlying sub-allocation, used to release the shard
// once its records have been migrated.
func (w *LogWriter) Handle() *nvm.Mem { return w.mem }

// Replay reconstructs the shard named by marker, invokes fn for every
// intact record in order, and returns a writer positioned after the last
// valid byte so appending resumes where the previous session stopped.
// Decoding stops at the zeroed tail or at the first torn record; anything
// beyond a bad checksum is unreachable by construction and is dropped.
func Replay(pool *nvm.Pool, marker nvm.Marker, fn func(*Record) error) (*LogWriter, error) {
	// Recover rather than Reallocate: the log cursor must also move past
	// the reconstructed shard so a later shard cannot land on top of it.
	mems, err := pool.Recover([]nvm.Marker{marker})
	if err != nil {
		return nil, errors.Wrap(err, "reconstructing log shard")
	}
	mem := mems[0]

	var pos, count uint64
	for {
		header, err := mem.View(pos, headerSize)
		if err != nil {
			break // ran off the end of the shard
		}
		payloadLen := binary.BigEndian.Uint32(header[0:4])
		if payloadLen == 0 {
			break // zeroed tail: end of log
		}
		total := uint64(headerSize) + uint64(payloadLen)
		buf, err := mem.View(pos, total)
		if err != nil {
			break
		}
		rec, err := Decode(buf)
		if err != nil {
			break // torn write at the tail
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		pos += total
		count++
	}

	if err := mem.UpdateIndex(pos); err != nil {
		return nil, err
	}
	mem.UpdateCounter(count)
	metrics.GlobalMetrics.RecordWALReplay()
	return &LogWriter{mem: mem}, nil
}
