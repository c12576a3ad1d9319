package bcache

import (
	"golang.org/x/sys/unix"
)

// memoryProvider reserves and returns the backing memory of areas.
type memoryProvider interface {
	Mmap(size int) ([]byte, error)
	Munmap(b []byte) error
	Release(b []byte) error
}

// Unix is an implementation reserving anonymous mappings.
type Unix struct{}

// Mmap wraps around [unix.Mmap] for a private anonymous read/write mapping.
func (*Unix) Mmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Munmap wraps around [unix.Munmap].
func (*Unix) Munmap(b []byte) error {
	return unix.Munmap(b)
}

// Release wraps around [unix.Madvise] with [unix.MADV_DONTNEED], giving the
// pages back while keeping the address range reserved.
func (*Unix) Release(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

// Heap is an implementation backed by the Go heap.
type Heap struct{}

// Mmap allocates a zeroed slice.
func (*Heap) Mmap(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Munmap is a no-op, the garbage collector reclaims the slice.
func (*Heap) Munmap([]byte) error {
	return nil
}

// Release zeroes b.
func (*Heap) Release(b []byte) error {
	clear(b)

	return nil
}
