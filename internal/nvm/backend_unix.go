//go:build unix

package nvm

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fileBackend maps a file into memory with MAP_SHARED so that flushed
// writes reach the backing file. On a pmem-aware filesystem (DAX) the
// mapping is the persistent region itself.
type fileBackend struct {
	f    *os.File
	data []byte
}

func newFileBackend(path string, size uint64) (Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open backing file %s", path)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "size backing file %s to %d bytes", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mmap %s (%d bytes)", path, size)
	}
	return &fileBackend{f: f, data: data}, nil
}

func (b *fileBackend) Bytes() []byte { return b.data }

// Persist msyncs the pages covering [off, off+n). Msync requires a
// page-aligned start, so the range is rounded down to the page boundary.
func (b *fileBackend) Persist(off, n uint64) error {
	if n == 0 {
		return nil
	}
	page := uint64(os.Getpagesize())
	start := off &^ (page - 1)
	end := off + n
	if end > uint64(len(b.data)) {
		end = uint64(len(b.data))
	}
	if err := unix.Msync(b.data[start:end], unix.MS_SYNC); err != nil {
		return errors.Wrapf(err, "msync [%d, %d)", start, end)
	}
	return nil
}

func (b *fileBackend) Close() error {
	var first error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			first = errors.Wrap(err, "munmap")
		}
		b.data = nil
	}
	if err := b.f.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
