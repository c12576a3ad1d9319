package vfs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// settableFlags are the status flags that may change after open.
const settableFlags = unix.O_APPEND | unix.O_NONBLOCK

// Descriptor is an open file description: a node, its access mode and status
// flags, and the cursor shared by every descriptor table slot referring to
// it.
type Descriptor struct {
	vnode *Vnode

	// posMu is held across every operation that reads and then moves the
	// cursor.
	posMu sync.Mutex

	mu     sync.Mutex
	flags  int
	offset int64

	refs atomic.Int64
}

// NewDescriptor returns a pointer to a new [Descriptor] over v, opened with
// flags. On success it takes over the caller's reference on v.
func NewDescriptor(v *Vnode, flags int) (*Descriptor, error) {
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
	case unix.O_WRONLY, unix.O_RDWR:
		if v.Inode().Kind() == inode.KindDirectory {
			return nil, fmt.Errorf("(vfs-descriptor) %w", unix.EISDIR)
		}
	default:
		return nil, fmt.Errorf("(vfs-descriptor) %w", unix.EINVAL)
	}

	d := &Descriptor{
		vnode: v,
		flags: flags,
	}
	d.refs.Store(1)

	return d, nil
}

// Vnode returns the node of the descriptor. No reference is taken.
func (d *Descriptor) Vnode() *Vnode {
	return d.vnode
}

func (d *Descriptor) readable() bool {
	mode := d.GetFlags() & unix.O_ACCMODE

	return mode == unix.O_RDONLY || mode == unix.O_RDWR
}

func (d *Descriptor) writable() bool {
	mode := d.GetFlags() & unix.O_ACCMODE

	return mode == unix.O_WRONLY || mode == unix.O_RDWR
}

// Offset returns the cursor.
func (d *Descriptor) Offset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.offset
}

func (d *Descriptor) setOffset(off int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.offset = off
}

// Read reads at the cursor and advances it. Objects without positional reads
// are read as streams.
func (d *Descriptor) Read(ctx *ioctx.Context, dst uintptr, count int) (int, error) {
	if !d.readable() {
		return 0, fmt.Errorf("(vfs-read) %w", unix.EBADF)
	}

	node := d.vnode.Inode()
	if !inode.Supports(node, inode.OpPRead) {
		return inode.Read(ctx, node, dst, count)
	}

	d.posMu.Lock()
	defer d.posMu.Unlock()

	off := d.Offset()

	n, err := inode.PRead(ctx, node, dst, count, off)
	if n > 0 {
		d.setOffset(off + int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("(vfs-read) %w", err)
	}

	return n, nil
}

// Write writes at the cursor, or at the end of the object with O_APPEND, and
// advances the cursor.
func (d *Descriptor) Write(ctx *ioctx.Context, src uintptr, count int) (int, error) {
	if !d.writable() {
		return 0, fmt.Errorf("(vfs-write) %w", unix.EBADF)
	}

	node := d.vnode.Inode()
	if !inode.Supports(node, inode.OpPWrite) {
		return inode.Write(ctx, node, src, count)
	}

	d.posMu.Lock()
	defer d.posMu.Unlock()

	off := d.Offset()

	if d.GetFlags()&unix.O_APPEND != 0 {
		st, err := node.Stat(ctx)
		if err != nil {
			return 0, fmt.Errorf("(vfs-write) %w", err)
		}

		off = st.Size
		d.setOffset(off)
	}

	n, err := inode.PWrite(ctx, node, src, count, off)
	if n > 0 {
		d.setOffset(off + int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("(vfs-write) %w", err)
	}

	return n, nil
}

// PRead reads at off without moving the cursor.
func (d *Descriptor) PRead(ctx *ioctx.Context, dst uintptr, count int, off int64) (int, error) {
	if !d.readable() {
		return 0, fmt.Errorf("(vfs-pread) %w", unix.EBADF)
	}

	if off < 0 {
		return 0, fmt.Errorf("(vfs-pread) %w", unix.EINVAL)
	}

	return inode.PRead(ctx, d.vnode.Inode(), dst, count, off)
}

// PWrite writes at off without moving the cursor.
func (d *Descriptor) PWrite(ctx *ioctx.Context, src uintptr, count int, off int64) (int, error) {
	if !d.writable() {
		return 0, fmt.Errorf("(vfs-pwrite) %w", unix.EBADF)
	}

	if off < 0 {
		return 0, fmt.Errorf("(vfs-pwrite) %w", unix.EINVAL)
	}

	return inode.PWrite(ctx, d.vnode.Inode(), src, count, off)
}

// Lseek moves the cursor. Objects with their own seek implementation decide
// the result; streams, terminals and sockets cannot seek.
func (d *Descriptor) Lseek(ctx *ioctx.Context, off int64, whence int) (int64, error) {
	node := d.vnode.Inode()

	d.posMu.Lock()
	defer d.posMu.Unlock()

	if inode.Supports(node, inode.OpLseek) {
		pos, err := inode.Lseek(ctx, node, off, whence)
		if err != nil {
			return 0, fmt.Errorf("(vfs-lseek) %w", err)
		}

		d.setOffset(pos)

		return pos, nil
	}

	switch node.Kind() {
	case inode.KindStream, inode.KindTTY, inode.KindSocket:
		return 0, inode.Reject(node.Kind(), inode.OpLseek)
	}

	var base int64

	switch whence {
	case unix.SEEK_SET:
	case unix.SEEK_CUR:
		base = d.Offset()
	case unix.SEEK_END:
		st, err := node.Stat(ctx)
		if err != nil {
			return 0, fmt.Errorf("(vfs-lseek) %w", err)
		}
		base = st.Size
	default:
		return 0, fmt.Errorf("(vfs-lseek) %w", unix.EINVAL)
	}

	pos := base + off
	if pos < 0 {
		return 0, fmt.Errorf("(vfs-lseek) %w", unix.EINVAL)
	}

	d.setOffset(pos)

	return pos, nil
}

// Truncate sets the length of the object. The descriptor must be writable.
func (d *Descriptor) Truncate(ctx *ioctx.Context, length int64) error {
	if !d.writable() {
		return fmt.Errorf("(vfs-truncate) %w", unix.EBADF)
	}

	if length < 0 {
		return fmt.Errorf("(vfs-truncate) %w", unix.EINVAL)
	}

	return inode.Truncate(ctx, d.vnode.Inode(), length)
}

// Stat returns the metadata of the object.
func (d *Descriptor) Stat(ctx *ioctx.Context) (inode.Stat, error) {
	return d.vnode.Stat(ctx)
}

// Sync flushes the object.
func (d *Descriptor) Sync(ctx *ioctx.Context) error {
	return d.vnode.Sync(ctx)
}

// ReadDir lists the object when it is a directory.
func (d *Descriptor) ReadDir(ctx *ioctx.Context) ([]inode.Dirent, error) {
	return d.vnode.ReadDir(ctx)
}

// GetFlags returns the access mode and status flags.
func (d *Descriptor) GetFlags() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.flags
}

// SetFlags replaces the changeable status flags, [unix.O_APPEND] and
// [unix.O_NONBLOCK]. Other bits of flags are ignored.
func (d *Descriptor) SetFlags(flags int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flags = d.flags&^settableFlags | flags&settableFlags
}

// IncRef takes a reference.
func (d *Descriptor) IncRef() {
	if d.refs.Add(1) <= 1 {
		panic("vfs: reference taken on released descriptor")
	}
}

// DecRef drops a reference. The last one releases the node.
func (d *Descriptor) DecRef() {
	switch n := d.refs.Add(-1); {
	case n < 0:
		panic("vfs: descriptor reference count below zero")
	case n == 0:
		d.vnode.DecRef()
	}
}

// Refs returns the current reference count.
func (d *Descriptor) Refs() int64 {
	return d.refs.Load()
}
