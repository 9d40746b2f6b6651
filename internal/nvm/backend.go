package nvm

// BackendKind selects how the pool's byte region is backed. The choice is
// made at construction time, not at build time, so tests and machines
// without persistent memory run against the heap backend.
type BackendKind string

const (
	// BackendHeap keeps the region in ordinary process memory. Contents do
	// not survive a restart; Persist is a no-op.
	BackendHeap BackendKind = "heap"
	// BackendFile memory-maps a file at the configured path. This is the
	// persistent-memory-equivalent mapping; Persist flushes written ranges
	// to stable media.
	BackendFile BackendKind = "file"
)

// Backend is the storage behind a pool. Exactly one backend instance exists
// per pool; handles reach the bytes only through the pool's bounds-checked
// accessors.
type Backend interface {
	// Bytes returns the whole region. The slice is valid until Close.
	Bytes() []byte

	// Persist flushes [off, off+n) to stable media. Implementations may
	// round the range outward to alignment boundaries.
	Persist(off, n uint64) error

	// Close releases the region. The Bytes slice must not be used after.
	Close() error
}

// heapBackend is the DRAM fallback region.
type heapBackend struct {
	data []byte
}

func newHeapBackend(size uint64) *heapBackend {
	return &heapBackend{data: make([]byte, size)}
}

func (b *heapBackend) Bytes() []byte { return b.data }

func (b *heapBackend) Persist(off, n uint64) error { return nil }

func (b *heapBackend) Close() error {
	b.data = nil
	return nil
}
