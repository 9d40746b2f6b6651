package nvm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/arthurzhang/silkstore/internal/metrics"
)

// Mem is a bounded, append-oriented view over one extent of the pool. The
// pool owns the memory; the handle tracks a write cursor and a logical
// record counter. A handle performs no internal locking: it must be driven
// by a single writer for its whole lifetime (one handle per log shard or
// staging memtable). The pool's structural operations remain safe to call
// concurrently.
type Mem struct {
	pool    *Pool
	off     uint64 // base offset in the pool, immutable
	size    uint64 // extent length, immutable
	index   uint64 // write cursor relative to off
	counter uint64 // logical record counter, caller-driven
}

// Insert appends data at the write cursor and returns the absolute pool
// offset the bytes were written at. The append is all-or-nothing: if data
// does not fit in the remaining capacity the cursor is left untouched and
// ErrOutOfSpace is returned.
//
// The written range is persisted before Insert returns, so a returned
// offset always names durable bytes. Callers record these offsets (plus
// the handle's begin address and size) as recovery markers.
func (m *Mem) Insert(data []byte) (uint64, error) {
	n := uint64(len(data))
	if n > m.size-m.index {
		metrics.GlobalMetrics.OutOfSpaceCount.Add(1)
		return 0, errors.Wrapf(ErrOutOfSpace,
			"insert %d bytes with %d remaining", n, m.size-m.index)
	}
	abs := m.off + m.index
	copy(m.pool.backend.Bytes()[abs:abs+n], data)
	if err := m.pool.backend.Persist(abs, n); err != nil {
		// Cursor stays put; the append never happened as far as the
		// caller is concerned.
		return 0, err
	}
	m.index += n
	return abs, nil
}

// UpdateCounter sets the logical record counter. The counter is entirely
// caller-driven: one increment per logical record, which may span any
// number of bytes.
func (m *Mem) UpdateCounter(n uint64) { m.counter = n }

// GetCounter returns the logical record counter.
func (m *Mem) GetCounter() uint64 { return m.counter }

// UpdateIndex repositions the write cursor, used during log replay to
// resume appending after the last valid byte. A position beyond the
// handle's size is an integrity violation.
func (m *Mem) UpdateIndex(index uint64) error {
	if index > m.size {
		return errors.Wrapf(ErrIntegrityViolation,
			"cursor %d beyond handle size %d", index, m.size)
	}
	m.index = index
	return nil
}

// Zero clears the handle's extent and persists the cleared bytes. Free
// does not scrub released ranges, so a freshly allocated extent can still
// carry a previous owner's bytes; callers that scan their extent for
// self-describing content (log replay) must wipe it before first use.
func (m *Mem) Zero() error {
	buf := m.pool.backend.Bytes()[m.off : m.off+m.size]
	for i := range buf {
		buf[i] = 0
	}
	return m.pool.backend.Persist(m.off, m.size)
}

// GetBeginAddress returns the handle's absolute base offset in the pool.
// Together with Size it forms the recovery marker for this handle.
func (m *Mem) GetBeginAddress() uint64 { return m.off }

// Size returns the extent length.
func (m *Mem) Size() uint64 { return m.size }

// Remaining returns the unwritten capacity.
func (m *Mem) Remaining() uint64 { return m.size - m.index }

// Marker returns the recovery marker identifying this handle's extent.
func (m *Mem) Marker() Marker {
	return Marker{Offset: m.off, Size: m.size}
}

// View returns a read slice over [off, off+n) of the handle's extent,
// bounds-checked against the handle, not just the pool.
func (m *Mem) View(off, n uint64) ([]byte, error) {
	if off > m.size || n > m.size-off {
		return nil, errors.Wrapf(ErrIntegrityViolation,
			"view [%d, %d) beyond handle size %d", off, off+n, m.size)
	}
	abs := m.off + off
	return m.pool.backend.Bytes()[abs : abs+n : abs+n], nil
}

// String is a diagnostic dump for operator/debug visibility.
func (m *Mem) String() string {
	return fmt.Sprintf("nvmem{base=%d size=%d cursor=%d remain=%d counter=%d}",
		m.off, m.size, m.index, m.size-m.index, m.counter)
}
