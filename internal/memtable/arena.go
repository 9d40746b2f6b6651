package memtable

import (
	"errors"
	"sync"

	"github.com/arthurzhang/silkstore/internal/metrics"
)

// ErrArenaFull is returned when an allocation does not fit in the arena's
// remaining capacity. The owner flips the memtable and retries against a
// fresh arena.
var ErrArenaFull = errors.New("memtable: arena exhausted")

// Arena is a bump-pointer allocator over a fixed-capacity buffer. It
// reduces GC pressure by allocating value bytes from a contiguous region.
// When the buffer is a staging sub-allocation carved from the NVM pool the
// capacity is the sub-allocation's size and can never grow, so exhaustion
// is surfaced to the caller instead of handled by reallocation.
type Arena struct {
	mu  sync.Mutex
	buf []byte
	off int
}

// NewArena creates a heap-backed arena with a fixed capacity in bytes.
func NewArena(capacity int) *Arena {
	return &Arena{buf: make([]byte, capacity)}
}

// NewArenaBuffer wraps an externally owned region, typically an NVM
// staging sub-allocation. The arena writes into the region but does not
// own or release it.
func NewArenaBuffer(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Alloc reserves n bytes and returns a slice backed by the arena, or
// ErrArenaFull when n exceeds the remaining capacity.
func (a *Arena) Alloc(n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.buf)-a.off {
		return nil, ErrArenaFull
	}
	start := a.off
	a.off += n
	metrics.GlobalMetrics.ArenaBytes.Add(int64(n))
	return a.buf[start:a.off:a.off], nil
}

// Copy allocates space and copies src into the arena, returning the new slice.
func (a *Arena) Copy(src []byte) ([]byte, error) {
	b, err := a.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	copy(b, src)
	return b, nil
}

// Len returns the number of bytes allocated so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// Cap returns the arena's fixed capacity.
func (a *Arena) Cap() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
