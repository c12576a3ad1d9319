// Package ramfs is an in-memory filesystem whose regular files keep their
// content in the shared block cache.
package ramfs

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

const (
	rootIno = 1

	// MaxNameLen is the longest accepted directory entry name.
	MaxNameLen = 255
)

// FS is one mounted instance of the filesystem.
type FS struct {
	dev         uint64
	cache       *bcache.BlockCache
	maxFileSize int64

	lastIno atomic.Uint64
	root    *Dir

	// mu guards the entries and parent links of every directory.
	mu sync.RWMutex
}

// New returns a pointer to a new [FS] on device dev, with a root directory
// owned by creds.
func New(dev uint64, cache *bcache.BlockCache, maxFileSize int64, creds ioctx.Credentials) *FS {
	fs := &FS{
		dev:         dev,
		cache:       cache,
		maxFileSize: maxFileSize,
	}
	fs.lastIno.Store(rootIno - 1)

	fs.root = fs.newDir(nil, 0o755, creds)
	fs.root.parent = fs.root
	fs.root.Linked()
	fs.root.Linked()

	slog.Debug("Filesystem created",
		"dev", dev,
	)

	return fs
}

// Dev returns the device number of the filesystem.
func (fs *FS) Dev() uint64 {
	return fs.dev
}

// Root returns the root directory with a new reference for the caller.
func (fs *FS) Root() *Dir {
	fs.root.IncRef()

	return fs.root
}

// Release drops the filesystem's own reference on its root. Content stays
// alive for as long as anything else references it.
func (fs *FS) Release() {
	fs.root.DecRef()
}

func (fs *FS) nextIno() uint64 {
	return fs.lastIno.Add(1)
}

func permissions(mode uint32) uint32 {
	return mode & 0o7777
}

func validName(name string) error {
	switch {
	case name == "":
		return unix.ENOENT
	case len(name) > MaxNameLen:
		return unix.ENAMETOOLONG
	}

	for i := range len(name) {
		if name[i] == '/' || name[i] == 0 {
			return unix.EINVAL
		}
	}

	return nil
}
