// Package filecache presents byte-stream semantics for one file over blocks
// of the shared block cache.
package filecache

import (
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// FileCache holds the content of one file. Every block within the logical
// size is resident; bytes past the written mark are zeroed lazily, the first
// time they are touched.
type FileCache struct {
	sync.Mutex
	cache   *bcache.BlockCache
	maxSize int64

	blocks   []bcache.BlockID
	size     int64
	written  int64
	modified bool
}

// New returns a pointer to a new, empty [FileCache] drawing blocks from
// cache and refusing to grow beyond maxSize bytes.
func New(cache *bcache.BlockCache, maxSize int64) *FileCache {
	return &FileCache{
		cache:   cache,
		maxSize: maxSize,
	}
}

func (f *FileCache) blockSize() int64 {
	return int64(f.cache.BlockSize())
}

func (f *FileCache) blocksFor(size int64) int {
	bs := f.blockSize()

	return int((size + bs - 1) / bs)
}

// resize sets the logical size, acquiring or releasing trailing blocks. On
// failure the size is unchanged.
func (f *FileCache) resize(size int64) error {
	want := f.blocksFor(size)
	have := len(f.blocks)

	switch {
	case want > have:
		if want > cap(f.blocks) {
			grown := make([]bcache.BlockID, have, max(2*cap(f.blocks), want))
			copy(grown, f.blocks)
			f.blocks = grown
		}

		for i := have; i < want; i++ {
			id, err := f.cache.AcquireBlock()
			if err != nil {
				for j := have; j < i; j++ {
					f.cache.ReleaseBlock(f.blocks[j])
				}
				f.blocks = f.blocks[:have]

				return fmt.Errorf("(filecache-resize) %w", err)
			}
			f.blocks = append(f.blocks, id)
		}

	case want < have:
		for _, id := range f.blocks[want:] {
			f.cache.ReleaseBlock(id)
		}
		f.blocks = f.blocks[:want]

		if cap(f.blocks) > 4*max(want, 1) {
			f.blocks = append(make([]bcache.BlockID, 0, 2*want), f.blocks...)
		}
	}

	f.size = size
	f.written = min(f.written, size)

	return nil
}

// zeroFill clears [from, to) and moves the written mark to to.
func (f *FileCache) zeroFill(from, to int64) {
	bs := f.blockSize()

	for pos := from; pos < to; {
		id := f.blocks[pos/bs]
		inner := pos % bs
		n := min(bs-inner, to-pos)

		clear(f.cache.Data(id)[inner : inner+n])
		f.cache.MarkUsed(id)

		pos += n
	}

	f.written = max(f.written, to)
}

// PRead copies up to count bytes at offset off into the caller's memory at
// dst. A copy failing partway returns the bytes moved so far; the error is
// only reported when nothing was moved.
func (f *FileCache) PRead(ctx *ioctx.Context, dst uintptr, count int, off int64) (int, error) {
	if off < 0 || count < 0 {
		return 0, fmt.Errorf("(filecache-pread) %w", unix.EINVAL)
	}

	f.Lock()
	defer f.Unlock()

	if off >= f.size || count == 0 {
		return 0, nil
	}

	end := min(off+int64(count), f.size)
	if end > f.written {
		f.zeroFill(f.written, end)
	}

	bs := f.blockSize()
	done := 0

	for pos := off; pos < end; {
		id := f.blocks[pos/bs]
		inner := pos % bs
		n := min(bs-inner, end-pos)

		c, err := ctx.CopyToDest(dst+uintptr(done), f.cache.Data(id)[inner:inner+n])
		f.cache.MarkUsed(id)
		done += c

		if err != nil {
			if done > 0 {
				return done, nil
			}

			return 0, fmt.Errorf("(filecache-pread) %w", err)
		}

		pos += n
	}

	return done, nil
}

// PWrite copies up to count bytes from the caller's memory at src into the
// file at offset off, growing it as needed. A copy failing partway returns
// the bytes moved so far and the file ends after the last byte moved.
func (f *FileCache) PWrite(ctx *ioctx.Context, src uintptr, count int, off int64) (int, error) {
	if off < 0 || count < 0 {
		return 0, fmt.Errorf("(filecache-pwrite) %w", unix.EINVAL)
	}

	if count == 0 {
		return 0, nil
	}

	f.Lock()
	defer f.Unlock()

	if off >= f.maxSize {
		return 0, fmt.Errorf("(filecache-pwrite) %w", unix.EFBIG)
	}

	end := min(off+int64(count), f.maxSize)
	oldSize := f.size

	if end > f.size {
		if err := f.resize(end); err != nil {
			return 0, fmt.Errorf("(filecache-pwrite) %w", err)
		}
	}

	if off > f.written {
		f.zeroFill(f.written, off)
	}

	bs := f.blockSize()
	done := 0

	var copyErr error

	for pos := off; pos < end; {
		id := f.blocks[pos/bs]
		inner := pos % bs
		n := min(bs-inner, end-pos)

		c, err := ctx.CopyFromSrc(f.cache.Data(id)[inner:inner+n], src+uintptr(done))
		if c > 0 {
			f.cache.MarkModified(id)
		}
		done += c

		if err != nil {
			copyErr = err

			break
		}

		pos += n
	}

	last := off + int64(done)
	f.written = max(f.written, last)

	if last < end && end > oldSize {
		// Drop the growth that no byte reached.
		keep := oldSize
		if done > 0 {
			keep = max(oldSize, last)
		}
		_ = f.resize(keep)
	}

	if done > 0 {
		f.modified = true
	}

	if copyErr != nil && done == 0 {
		return 0, fmt.Errorf("(filecache-pwrite) %w", copyErr)
	}

	return done, nil
}

// Truncate sets the logical size to length, releasing blocks past it.
func (f *FileCache) Truncate(length int64) error {
	if length < 0 {
		return fmt.Errorf("(filecache-truncate) %w", unix.EINVAL)
	}

	f.Lock()
	defer f.Unlock()

	if length > f.maxSize {
		return fmt.Errorf("(filecache-truncate) %w", unix.EFBIG)
	}

	if length == f.size {
		return nil
	}

	if err := f.resize(length); err != nil {
		return fmt.Errorf("(filecache-truncate) %w", err)
	}

	f.modified = true

	return nil
}

// Synchronize writes the content back to its backing store. There is none,
// so it always succeeds.
func (f *FileCache) Synchronize(*ioctx.Context) error {
	return nil
}

// Size returns the logical size.
func (f *FileCache) Size() int64 {
	f.Lock()
	defer f.Unlock()

	return f.size
}

// Written returns the high-water mark of initialized bytes.
func (f *FileCache) Written() int64 {
	f.Lock()
	defer f.Unlock()

	return f.written
}

// Modified reports whether the content changed since creation.
func (f *FileCache) Modified() bool {
	f.Lock()
	defer f.Unlock()

	return f.modified
}

// BlockCount returns the number of resident blocks.
func (f *FileCache) BlockCount() int {
	f.Lock()
	defer f.Unlock()

	return len(f.blocks)
}

// Release returns every block to the block cache, leaving an empty file.
func (f *FileCache) Release() {
	f.Lock()
	defer f.Unlock()

	for _, id := range f.blocks {
		f.cache.ReleaseBlock(id)
	}

	f.blocks = nil
	f.size = 0
	f.written = 0
}

// Digest returns the BLAKE3 sum of the logical content.
func (f *FileCache) Digest() []byte {
	f.Lock()
	defer f.Unlock()

	if f.size > f.written {
		f.zeroFill(f.written, f.size)
	}

	hasher := blake3.New()
	bs := f.blockSize()

	for i, id := range f.blocks {
		n := min(bs, f.size-int64(i)*bs)
		hasher.Write(f.cache.Data(id)[:n]) //nolint:errcheck
	}

	return hasher.Sum(nil)
}
