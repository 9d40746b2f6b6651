// Package nvm manages a single byte-addressable persistent region for the
// storage engine, carving it into sub-allocations used for write-ahead
// logging and memtable staging. A reserved prefix of the pool is dedicated
// to log sub-allocations; the remainder serves general staging requests.
// The two regions are allocated from independently and never satisfy each
// other's requests.
//
// Allocation is bump-pointer per region with a per-region free-extent list
// reused first-fit. Freed extents are split when larger than the request
// and never coalesced; Info exposes fragmentation counters so callers can
// watch reuse efficiency degrade under long mixed alloc/free workloads.
package nvm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arthurzhang/silkstore/internal/metrics"
)

const (
	// DefaultPoolSize is the default total capacity of the mapped region.
	DefaultPoolSize = 1 << 30 // 1 GiB
	// DefaultLogSize is the default capacity reserved for the log region.
	DefaultLogSize = 30 << 20 // 30 MiB
)

// extent is a contiguous (offset, length) byte range within the pool.
type extent struct {
	off    uint64
	length uint64
}

func (e extent) end() uint64 { return e.off + e.length }

// Marker is a recovery record persisted by the engine before a crash: the
// begin address and size of one live sub-allocation. Replaying every marker
// from the previous session through Recover rebuilds the pool's live-range
// bookkeeping.
type Marker struct {
	Offset uint64
	Size   uint64
}

// Options configure a pool at construction time.
type Options struct {
	// Path of the backing file. Ignored by the heap backend.
	Path string
	// PoolSize is the total region capacity. Defaults to DefaultPoolSize.
	PoolSize uint64
	// LogSize is the reserved log-region capacity. Defaults to
	// DefaultLogSize. Must be smaller than PoolSize.
	LogSize uint64
	// Backend selects the region implementation. Defaults to BackendHeap,
	// the DRAM-equivalent region for machines without persistent memory.
	Backend BackendKind
	// Logger receives pool lifecycle and recovery events. Defaults to the
	// logrus standard logger.
	Logger logrus.FieldLogger
}

// Pool owns the mapped persistent region and all allocation metadata. All
// structural operations are serialized by a single mutex and are safe to
// call from multiple goroutines; the handles a pool hands out are not.
type Pool struct {
	mu      sync.Mutex
	backend Backend
	log     logrus.FieldLogger

	cap    uint64 // total region capacity
	logCap uint64 // log region is [0, logCap), general is [logCap, cap)

	index    uint64 // general-region bump cursor, starts at logCap
	logIndex uint64 // log-region bump cursor, starts at 0

	free    []extent // released general-region extents, reuse first-fit
	logFree []extent // released log-region extents

	live []extent // every live sub-allocation, sorted by offset

	closed bool
}

// Open creates or opens the pool's backing region and prepares both
// allocation regions. It fails with an initialization error when the
// mapping cannot be created; the engine cannot start without it.
func Open(opts Options) (*Pool, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.LogSize == 0 {
		opts.LogSize = DefaultLogSize
	}
	if opts.Backend == "" {
		opts.Backend = BackendHeap
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.LogSize >= opts.PoolSize {
		return nil, errors.Wrapf(ErrInitialization,
			"log region %d must be smaller than pool %d", opts.LogSize, opts.PoolSize)
	}

	var (
		backend Backend
		err     error
	)
	switch opts.Backend {
	case BackendHeap:
		backend = newHeapBackend(opts.PoolSize)
	case BackendFile:
		backend, err = newFileBackend(opts.Path, opts.PoolSize)
		if err != nil {
			return nil, errors.Wrapf(ErrInitialization, "file backend: %v", err)
		}
	default:
		return nil, errors.Wrapf(ErrInitialization, "unknown backend %q", opts.Backend)
	}

	p := &Pool{
		backend:  backend,
		log:      opts.Logger,
		cap:      opts.PoolSize,
		logCap:   opts.LogSize,
		index:    opts.LogSize,
		logIndex: 0,
	}
	p.log.WithFields(logrus.Fields{
		"backend": opts.Backend,
		"path":    opts.Path,
		"cap":     opts.PoolSize,
		"log_cap": opts.LogSize,
	}).Info("nvm pool opened")
	return p, nil
}

// Allocate returns a sub-allocation of n bytes from the general region,
// reusing a released extent first-fit before advancing the bump cursor.
// Out of space is returned to the caller, never fatal.
func (p *Pool) Allocate(n uint64) (*Mem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked(n, false)
}

// AllocateLog is Allocate for the reserved log region. Log and general
// requests are never satisfied from each other's region.
func (p *Pool) AllocateLog(n uint64) (*Mem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked(n, true)
}

func (p *Pool) allocateLocked(n uint64, logRegion bool) (*Mem, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if n == 0 {
		return nil, errors.Wrap(ErrIntegrityViolation, "zero-length allocation")
	}

	freeList := &p.free
	cursor := &p.index
	limit := p.cap
	region := "general"
	if logRegion {
		freeList = &p.logFree
		cursor = &p.logIndex
		limit = p.logCap
		region = "log"
	}

	// First fit from the region's free extents. A larger extent is split;
	// the remainder re-enters the list. No coalescing.
	for i, e := range *freeList {
		if e.length < n {
			continue
		}
		if e.length == n {
			*freeList = append((*freeList)[:i], (*freeList)[i+1:]...)
		} else {
			(*freeList)[i] = extent{off: e.off + n, length: e.length - n}
		}
		p.insertLive(extent{off: e.off, length: n})
		metrics.GlobalMetrics.RecordAlloc(int64(n), true)
		return &Mem{pool: p, off: e.off, size: n}, nil
	}

	// Bump allocation. Ranges re-established by Reallocate can sit above
	// the cursor, so the candidate steps over any live extent it touches
	// instead of trusting everything past the cursor to be unallocated.
	// The bytes skipped while stepping join the free list.
	off := *cursor
	var gaps []extent
	for {
		var rem uint64
		if off < limit {
			rem = limit - off
		}
		if n > rem {
			metrics.GlobalMetrics.OutOfSpaceCount.Add(1)
			return nil, errors.Wrapf(ErrOutOfSpace,
				"%s region: %d requested, %d unallocated", region, n, rem)
		}
		other, ok := p.overlapsLive(extent{off: off, length: n})
		if !ok {
			break
		}
		if other.off > off {
			gaps = append(gaps, extent{off: off, length: other.off - off})
		}
		off = other.end()
	}
	*freeList = append(*freeList, gaps...)
	*cursor = off + n
	p.insertLive(extent{off: off, length: n})
	metrics.GlobalMetrics.RecordAlloc(int64(n), false)
	return &Mem{pool: p, off: off, size: n}, nil
}

// Reallocate reconstructs a handle over the exact extent named by a
// recovery marker, without consuming either bump cursor. The range must lie
// inside the pool, inside a single region, and must not overlap any live
// sub-allocation; violations mean the recovery input is corrupt and are
// returned as integrity violations for the engine to treat as fatal.
func (p *Pool) Reallocate(offset, size uint64) (*Mem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reallocateLocked(offset, size)
}

func (p *Pool) reallocateLocked(offset, size uint64) (*Mem, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if size == 0 || offset >= p.cap || size > p.cap-offset {
		p.log.WithFields(logrus.Fields{"offset": offset, "size": size, "cap": p.cap}).
			Error("reallocate out of pool bounds")
		return nil, errors.Wrapf(ErrIntegrityViolation,
			"reallocate [%d, %d) outside pool of %d bytes", offset, offset+size, p.cap)
	}
	if offset < p.logCap && offset+size > p.logCap {
		p.log.WithFields(logrus.Fields{"offset": offset, "size": size, "log_cap": p.logCap}).
			Error("reallocate crosses region boundary")
		return nil, errors.Wrapf(ErrIntegrityViolation,
			"reallocate [%d, %d) crosses log boundary %d", offset, offset+size, p.logCap)
	}
	if other, ok := p.overlapsLive(extent{off: offset, length: size}); ok {
		p.log.WithFields(logrus.Fields{
			"offset": offset, "size": size,
			"live_offset": other.off, "live_size": other.length,
		}).Error("reallocate overlaps live range")
		return nil, errors.Wrapf(ErrIntegrityViolation,
			"reallocate [%d, %d) overlaps live [%d, %d)",
			offset, offset+size, other.off, other.end())
	}
	re := extent{off: offset, length: size}
	for _, list := range [][]extent{p.free, p.logFree} {
		for _, e := range list {
			if e.off < re.end() && re.off < e.end() {
				p.log.WithFields(logrus.Fields{"offset": offset, "size": size}).
					Error("reallocate overlaps free extent")
				return nil, errors.Wrapf(ErrIntegrityViolation,
					"reallocate [%d, %d) overlaps free extent [%d, %d)",
					offset, re.end(), e.off, e.end())
			}
		}
	}
	p.insertLive(re)
	return &Mem{pool: p, off: offset, size: size}, nil
}

// Recover rebuilds allocation state from the markers the engine persisted
// before a crash. Every marker is reallocated, then each region's bump
// cursor is advanced past the highest recovered extent so later allocations
// cannot double-assign recovered ranges. The free-extent lists are not
// reconstructed: extents released before the crash whose release never
// reached the engine's metadata are simply not reused until the pool is
// recreated. That history is an accepted recovery loss.
//
// The returned handles re-establish the caller's sub-allocations in
// marker order.
func (p *Pool) Recover(markers []Marker) ([]*Mem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	mems := make([]*Mem, 0, len(markers))
	for _, mk := range markers {
		m, err := p.reallocateLocked(mk.Offset, mk.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "recovering marker {offset=%d size=%d}", mk.Offset, mk.Size)
		}
		mems = append(mems, m)
		end := mk.Offset + mk.Size
		if mk.Offset < p.logCap {
			if end > p.logIndex {
				p.logIndex = end
			}
		} else if end > p.index {
			p.index = end
		}
		metrics.GlobalMetrics.RecordRecovered(int64(mk.Size))
	}
	p.log.WithFields(logrus.Fields{
		"markers":    len(markers),
		"gen_cursor": p.index,
		"log_cursor": p.logIndex,
	}).Info("nvm pool recovered")
	return mems, nil
}

// Free returns the handle's extent to its region's free list. The bytes are
// not zeroed and adjacent free extents are not merged. Freeing a range the
// pool does not consider live (double free, foreign handle) is an integrity
// violation.
func (p *Pool) Free(m *Mem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	e, ok := p.removeLive(m.off)
	if !ok || e.length != m.size {
		return errors.Wrapf(ErrIntegrityViolation,
			"free of unknown range [%d, %d)", m.off, m.off+m.size)
	}
	if e.off < p.logCap {
		p.logFree = append(p.logFree, e)
	} else {
		p.free = append(p.free, e)
	}
	metrics.GlobalMetrics.RecordFree(int64(e.length))
	return nil
}

// PoolInfo is a point-in-time utilization snapshot.
type PoolInfo struct {
	Cap               uint64
	LogCap            uint64
	Used              uint64 // sum of live sub-allocation sizes
	Free              uint64 // Cap - Used
	LiveAllocs        int
	FreeExtents       int    // released extents awaiting reuse, both regions
	LargestFreeExtent uint64 // largest contiguous reusable or unallocated range
	LogUsed           uint64 // bytes consumed from the log region cursor
	GeneralUsed       uint64 // bytes consumed from the general region cursor
}

// String renders the snapshot for operator visibility.
func (i PoolInfo) String() string {
	return fmt.Sprintf(
		"nvm pool: used %d / %d bytes (free %d), %d live allocs, %d free extents (largest %d), log %d/%d, general %d/%d",
		i.Used, i.Cap, i.Free, i.LiveAllocs,
		i.FreeExtents, i.LargestFreeExtent,
		i.LogUsed, i.LogCap, i.GeneralUsed, i.Cap-i.LogCap)
}

// Info returns a consistent snapshot of pool utilization, including the
// fragmentation counters for the no-coalescing free lists.
func (p *Pool) Info() PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := PoolInfo{
		Cap:         p.cap,
		LogCap:      p.logCap,
		LiveAllocs:  len(p.live),
		FreeExtents: len(p.free) + len(p.logFree),
		LogUsed:     p.logIndex,
		GeneralUsed: p.index - p.logCap,
	}
	for _, e := range p.live {
		info.Used += e.length
	}
	info.Free = p.cap - info.Used
	info.LargestFreeExtent = p.cap - p.index
	if tail := p.logCap - p.logIndex; tail > info.LargestFreeExtent {
		info.LargestFreeExtent = tail
	}
	for _, e := range p.free {
		if e.length > info.LargestFreeExtent {
			info.LargestFreeExtent = e.length
		}
	}
	for _, e := range p.logFree {
		if e.length > info.LargestFreeExtent {
			info.LargestFreeExtent = e.length
		}
	}
	return info
}

// Close releases the backing region. Handles must not be used afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.backend.Close()
}

// insertLive inserts e into the sorted live slice.
func (p *Pool) insertLive(e extent) {
	i := sort.Search(len(p.live), func(i int) bool { return p.live[i].off >= e.off })
	p.live = append(p.live, extent{})
	copy(p.live[i+1:], p.live[i:])
	p.live[i] = e
}

// overlapsLive reports whether e intersects any live extent.
func (p *Pool) overlapsLive(e extent) (extent, bool) {
	i := sort.Search(len(p.live), func(i int) bool { return p.live[i].end() > e.off })
	if i < len(p.live) && p.live[i].off < e.end() {
		return p.live[i], true
	}
	return extent{}, false
}

// removeLive removes and returns the live extent starting at off.
func (p *Pool) removeLive(off uint64) (extent, bool) {
	i := sort.Search(len(p.live), func(i int) bool { return p.live[i].off >= off })
	if i >= len(p.live) || p.live[i].off != off {
		return extent{}, false
	}
	e := p.live[i]
	p.live = append(p.live[:i], p.live[i+1:]...)
	return e, true
}
