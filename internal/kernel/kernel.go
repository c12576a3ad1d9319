// Package kernel wires the block cache, the mount table and the root
// filesystem into a boot context, and exposes processes working on it.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/configuration"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"github.com/zhoujie-jay/kcore/internal/mount"
	"github.com/zhoujie-jay/kcore/internal/ramfs"
	"github.com/zhoujie-jay/kcore/internal/vfs"
	"golang.org/x/sys/unix"
)

const rootDev = 1

// memoryProvider is the memory backend of the block cache.
type memoryProvider interface {
	Mmap(size int) ([]byte, error)
	Munmap(b []byte) error
	Release(b []byte) error
}

// Kernel is the boot context, built once by [Boot] and passed to every
// process.
type Kernel struct {
	cfg *configuration.Kernel

	cache  *bcache.BlockCache
	mounts *mount.Table
	root   *vfs.Vnode

	mu          sync.Mutex
	filesystems []*ramfs.FS
	down        bool

	lastDev   atomic.Uint64
	lastPID   atomic.Int64
	processes atomic.Int64
}

// Boot builds the block cache, the mount table and the root filesystem
// described by cfg.
func Boot(ctx context.Context, cfg *configuration.Kernel) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("(kernel-boot) %w", err)
	}

	var memory memoryProvider = &bcache.Unix{}
	if cfg.MemoryBackend == configuration.MemoryHeap {
		memory = &bcache.Heap{}
	}

	cache, err := bcache.New(cfg.BlockSize, cfg.BlocksPerArea, memory)
	if err != nil {
		return nil, fmt.Errorf("(kernel-boot) %w", err)
	}

	k := &Kernel{
		cfg:    cfg,
		cache:  cache,
		mounts: mount.NewTable(),
	}
	k.lastDev.Store(rootDev - 1)

	fs := k.NewFS(ioctx.Root())
	k.root = vfs.NewRoot(fs.Root(), k.mounts, cfg.MaxMountDepth)

	if ctx.Err() != nil {
		_ = k.teardown()

		return nil, fmt.Errorf("(kernel-boot) %w", ctx.Err())
	}

	slog.Info("Kernel booted",
		"blockSize", humanize.IBytes(uint64(cfg.BlockSize)), //nolint:gosec
		"areaSize", humanize.IBytes(uint64(cfg.BlockSize*cfg.BlocksPerArea)), //nolint:gosec
		"memory", cfg.MemoryBackend,
		"descriptorLimit", cfg.DescriptorLimit,
	)

	return k, nil
}

// Config returns the boot configuration.
func (k *Kernel) Config() *configuration.Kernel {
	return k.cfg
}

// Cache returns the block cache shared by every file.
func (k *Kernel) Cache() *bcache.BlockCache {
	return k.cache
}

// Mounts returns the mount table.
func (k *Kernel) Mounts() *mount.Table {
	return k.mounts
}

// Root returns the root of the namespace with a new reference for the
// caller.
func (k *Kernel) Root() *vfs.Vnode {
	k.root.IncRef()

	return k.root
}

// Processes returns the number of live processes.
func (k *Kernel) Processes() int64 {
	return k.processes.Load()
}

// NewFS creates a new in-memory filesystem on its own device, backed by the
// kernel block cache. Its lifetime ends with [Kernel.Shutdown].
func (k *Kernel) NewFS(creds ioctx.Credentials) *ramfs.FS {
	fs := ramfs.New(k.lastDev.Add(1), k.cache, k.cfg.MaxFileSize, creds)

	k.mu.Lock()
	k.filesystems = append(k.filesystems, fs)
	k.mu.Unlock()

	return fs
}

// Shutdown releases the namespace and the block cache. Every process must
// have exited.
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	if k.down {
		k.mu.Unlock()

		return nil
	}

	if n := k.processes.Load(); n > 0 {
		k.mu.Unlock()

		return fmt.Errorf("(kernel-shutdown) %d processes alive: %w", n, unix.EBUSY)
	}
	k.down = true
	k.mu.Unlock()

	st := k.cache.Stats()

	if err := k.teardown(); err != nil {
		return fmt.Errorf("(kernel-shutdown) %w", err)
	}

	slog.Info("Kernel shut down",
		"mapped", humanize.IBytes(st.MappedBytes),
		"acquired", st.Acquired,
		"released", st.Released,
	)

	return nil
}

func (k *Kernel) teardown() error {
	k.mounts.Clear()

	if k.root != nil {
		k.root.DecRef()
	}

	k.mu.Lock()
	filesystems := k.filesystems
	k.filesystems = nil
	k.mu.Unlock()

	for _, fs := range filesystems {
		fs.Release()
	}

	if err := k.cache.Close(); err != nil {
		return fmt.Errorf("(kernel-teardown) %w", err)
	}

	return nil
}
