package ioctx

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// UserBuffer is a region of caller memory spanning [base, base+len). Copies
// touching addresses outside the region, or at or beyond the fault address
// when one is set, transfer what precedes the bad address and then fail with
// [unix.EFAULT].
type UserBuffer struct {
	sync.Mutex
	base  uintptr
	data  []byte
	fault uintptr
}

// NewUserBuffer returns a pointer to a new [UserBuffer] of size bytes mapped
// at base.
func NewUserBuffer(base uintptr, size int) *UserBuffer {
	return &UserBuffer{
		base: base,
		data: make([]byte, size),
	}
}

// NewUserBufferFrom returns a pointer to a new [UserBuffer] holding a copy of
// data, mapped at base.
func NewUserBufferFrom(base uintptr, data []byte) *UserBuffer {
	buf := NewUserBuffer(base, len(data))
	copy(buf.data, data)

	return buf
}

// Base returns the first address of the region.
func (b *UserBuffer) Base() uintptr {
	return b.base
}

// Bytes returns a copy of the region's contents.
func (b *UserBuffer) Bytes() []byte {
	b.Lock()
	defer b.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)

	return out
}

// SetFault makes every address at or beyond addr inaccessible. Zero clears it.
func (b *UserBuffer) SetFault(addr uintptr) {
	b.Lock()
	defer b.Unlock()

	b.fault = addr
}

// accessible returns how many of the n bytes starting at addr may be touched.
func (b *UserBuffer) accessible(addr uintptr, n int) int {
	if addr < b.base {
		return 0
	}

	end := b.base + uintptr(len(b.data))
	if b.fault != 0 && b.fault < end {
		end = b.fault
	}

	if addr >= end {
		return 0
	}

	return min(n, int(end-addr))
}

// CopyToDest implements [Copier].
func (b *UserBuffer) CopyToDest(dst uintptr, src []byte) (int, error) {
	b.Lock()
	defer b.Unlock()

	n := b.accessible(dst, len(src))
	if n > 0 {
		copy(b.data[dst-b.base:], src[:n])
	}

	if n < len(src) {
		return n, fmt.Errorf("(ioctx-copyto) %w", unix.EFAULT)
	}

	return n, nil
}

// CopyFromSrc implements [Copier].
func (b *UserBuffer) CopyFromSrc(dst []byte, src uintptr) (int, error) {
	b.Lock()
	defer b.Unlock()

	n := b.accessible(src, len(dst))
	if n > 0 {
		copy(dst[:n], b.data[src-b.base:])
	}

	if n < len(dst) {
		return n, fmt.Errorf("(ioctx-copyfrom) %w", unix.EFAULT)
	}

	return n, nil
}

// KernelBuffer is a [Copier] over kernel memory, where addresses are offsets
// into the underlying byte slice. It is used when the kernel itself performs
// I/O on its own behalf.
type KernelBuffer []byte

// CopyToDest implements [Copier].
func (k KernelBuffer) CopyToDest(dst uintptr, src []byte) (int, error) {
	if dst > uintptr(len(k)) {
		return 0, fmt.Errorf("(ioctx-kcopyto) %w", unix.EFAULT)
	}

	n := copy(k[dst:], src)
	if n < len(src) {
		return n, fmt.Errorf("(ioctx-kcopyto) %w", unix.EFAULT)
	}

	return n, nil
}

// CopyFromSrc implements [Copier].
func (k KernelBuffer) CopyFromSrc(dst []byte, src uintptr) (int, error) {
	if src > uintptr(len(k)) {
		return 0, fmt.Errorf("(ioctx-kcopyfrom) %w", unix.EFAULT)
	}

	n := copy(dst, k[src:])
	if n < len(dst) {
		return n, fmt.Errorf("(ioctx-kcopyfrom) %w", unix.EFAULT)
	}

	return n, nil
}
