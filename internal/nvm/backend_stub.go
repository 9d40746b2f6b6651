//go:build !unix

package nvm

import "github.com/pkg/errors"

// The mmap-backed region is only implemented for unix platforms. Elsewhere
// the heap backend is the only option.
func newFileBackend(path string, size uint64) (Backend, error) {
	return nil, errors.New("file backend is not supported on this platform")
}
