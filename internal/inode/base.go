package inode

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

const (
	// DefaultBlockSize is the preferred I/O size reported by [Base.Stat].
	DefaultBlockSize = 4096

	statBlockUnit = 512
	permBits      = 0o7777

	// keepID leaves an owner or group unchanged in [Base.Chown].
	keepID = ^uint32(0)
)

// Stat is the metadata reported for an object.
type Stat struct {
	Ino     uint64
	Dev     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    int64
	Atime   unix.Timespec
	Mtime   unix.Timespec
	Ctime   unix.Timespec
	Blksize int32
	Blocks  int64
}

// Base implements the core verbs every object shares: identity, metadata,
// link count and reference count. Concrete object kinds embed it and add
// the capability traits meaningful to them.
//
// Base must be initialized by [Base.Init] prior to first use.
type Base struct {
	ino  uint64
	dev  uint64
	kind Kind

	// mu protects the metadata block below.
	mu      sync.Mutex
	mode    uint32
	uid     uint32
	gid     uint32
	size    int64
	atime   unix.Timespec
	mtime   unix.Timespec
	ctime   unix.Timespec
	blksize int32

	nlink atomic.Int32
	refs  atomic.Int64

	releaseOnce sync.Once
	release     func()
	sizeSource  func() int64
}

func now() unix.Timespec {
	return unix.NsecToTimespec(time.Now().UnixNano())
}

// Init sets the identity and initial metadata. The caller holds the first
// reference. mode must carry a file type.
func (b *Base) Init(ino, dev uint64, kind Kind, mode uint32, uid, gid uint32) {
	if mode&unix.S_IFMT == 0 {
		panic(fmt.Sprintf("inode: no file type in mode 0%o for ino %d", mode, ino))
	}

	ts := now()

	b.ino = ino
	b.dev = dev
	b.kind = kind
	b.mode = mode
	b.uid = uid
	b.gid = gid
	b.atime = ts
	b.mtime = ts
	b.ctime = ts
	b.blksize = DefaultBlockSize

	b.refs.Store(1)
}

// SetReleaseHook installs fn to run once the last reference is dropped.
func (b *Base) SetReleaseHook(fn func()) {
	b.release = fn
}

// SetSizeSource makes [Base.Stat] and [Base.Size] report fn instead of the
// size recorded with [Base.SetSize]. It is set before the object is shared.
func (b *Base) SetSizeSource(fn func() int64) {
	b.sizeSource = fn
}

// Ino returns the inode number.
func (b *Base) Ino() uint64 {
	return b.ino
}

// Dev returns the device number.
func (b *Base) Dev() uint64 {
	return b.dev
}

// Kind returns the behavior tag.
func (b *Base) Kind() Kind {
	return b.kind
}

// Type returns the file type bits of the mode.
func (b *Base) Type() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.mode & unix.S_IFMT
}

// Stat returns a snapshot of the metadata.
func (b *Base) Stat(*ioctx.Context) (Stat, error) {
	var size int64
	if b.sizeSource != nil {
		size = b.sizeSource()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sizeSource == nil {
		size = b.size
	}

	return Stat{
		Ino:     b.ino,
		Dev:     b.dev,
		Mode:    b.mode,
		Nlink:   uint32(max(b.nlink.Load(), 0)), //nolint:gosec
		UID:     b.uid,
		GID:     b.gid,
		Size:    size,
		Atime:   b.atime,
		Mtime:   b.mtime,
		Ctime:   b.ctime,
		Blksize: b.blksize,
		Blocks:  (size + statBlockUnit - 1) / statBlockUnit,
	}, nil
}

// Chmod replaces the permission bits, keeping the file type.
func (b *Base) Chmod(_ *ioctx.Context, mode uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mode = (b.mode & unix.S_IFMT) | (mode & permBits)
	b.ctime = now()

	return nil
}

// Chown changes owner and group. An id of all ones leaves it unchanged.
func (b *Base) Chown(_ *ioctx.Context, uid, gid uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if uid != keepID {
		b.uid = uid
	}
	if gid != keepID {
		b.gid = gid
	}
	b.ctime = now()

	return nil
}

// Utimens sets the access and modification times, honoring
// [unix.UTIME_NOW] and [unix.UTIME_OMIT] in the nanosecond fields.
func (b *Base) Utimens(_ *ioctx.Context, atime, mtime unix.Timespec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := now()

	switch atime.Nsec {
	case unix.UTIME_OMIT:
	case unix.UTIME_NOW:
		b.atime = ts
	default:
		b.atime = atime
	}

	switch mtime.Nsec {
	case unix.UTIME_OMIT:
	case unix.UTIME_NOW:
		b.mtime = ts
	default:
		b.mtime = mtime
	}

	b.ctime = ts

	return nil
}

// Touch refreshes the access and/or modification time.
func (b *Base) Touch(access, modify bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := now()
	if access {
		b.atime = ts
	}
	if modify {
		b.mtime = ts
		b.ctime = ts
	}
}

// SetSize records the logical size reported by [Base.Stat].
func (b *Base) SetSize(size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.size = size
}

// Size returns the logical size.
func (b *Base) Size() int64 {
	if b.sizeSource != nil {
		return b.sizeSource()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.size
}

// SetBlockSize sets the preferred I/O size reported by [Base.Stat].
func (b *Base) SetBlockSize(size int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blksize = size
}

// Linked records one more name referring to the object.
func (b *Base) Linked() {
	b.nlink.Add(1)
}

// Unlinked records one name fewer referring to the object.
func (b *Base) Unlinked() {
	if b.nlink.Add(-1) < 0 {
		panic(fmt.Sprintf("inode: link count of ino %d dev %d below zero", b.ino, b.dev))
	}
}

// Nlink returns the link count.
func (b *Base) Nlink() uint32 {
	return uint32(max(b.nlink.Load(), 0)) //nolint:gosec
}

// IncRef takes a reference.
func (b *Base) IncRef() {
	if b.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("inode: reference taken on released ino %d dev %d", b.ino, b.dev))
	}
}

// TryIncRef takes a reference unless the object was already released, and
// reports whether it did.
func (b *Base) TryIncRef() bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef drops a reference, running the release hook on the last one.
func (b *Base) DecRef() {
	switch n := b.refs.Add(-1); {
	case n < 0:
		panic(fmt.Sprintf("inode: reference count of ino %d dev %d below zero", b.ino, b.dev))
	case n == 0:
		b.releaseOnce.Do(func() {
			if b.release != nil {
				b.release()
			}
		})
	}
}

// Refs returns the current reference count.
func (b *Base) Refs() int64 {
	return b.refs.Load()
}
