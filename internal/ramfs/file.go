package ramfs

import (
	"fmt"

	"github.com/zhoujie-jay/kcore/internal/filecache"
	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// File is a regular file.
type File struct {
	inode.Base
	content *filecache.FileCache
}

func (fs *FS) newFile(mode uint32, creds ioctx.Credentials) *File {
	f := &File{
		content: filecache.New(fs.cache, fs.maxFileSize),
	}
	f.Init(fs.nextIno(), fs.dev, inode.KindRegular, unix.S_IFREG|permissions(mode), creds.EUID, creds.EGID)
	f.SetBlockSize(int32(fs.cache.BlockSize())) //nolint:gosec
	f.SetReleaseHook(f.content.Release)
	f.SetSizeSource(f.content.Size)

	return f
}

// PRead implements [inode.PReader].
func (f *File) PRead(ctx *ioctx.Context, dst uintptr, count int, off int64) (int, error) {
	n, err := f.content.PRead(ctx, dst, count, off)
	if err != nil {
		return n, fmt.Errorf("(ramfs-pread) %w", err)
	}

	f.Touch(true, false)

	return n, nil
}

// PWrite implements [inode.PWriter].
func (f *File) PWrite(ctx *ioctx.Context, src uintptr, count int, off int64) (int, error) {
	n, err := f.content.PWrite(ctx, src, count, off)
	if err != nil {
		return n, fmt.Errorf("(ramfs-pwrite) %w", err)
	}

	f.Touch(false, n > 0)

	return n, nil
}

// Truncate implements [inode.Truncater].
func (f *File) Truncate(_ *ioctx.Context, length int64) error {
	if err := f.content.Truncate(length); err != nil {
		return fmt.Errorf("(ramfs-truncate) %w", err)
	}

	f.Touch(false, true)

	return nil
}

// Sync implements [inode.Syncer].
func (f *File) Sync(ctx *ioctx.Context) error {
	return f.content.Synchronize(ctx)
}

// Digest returns the BLAKE3 sum of the file content.
func (f *File) Digest() []byte {
	return f.content.Digest()
}

// Symlink is a symbolic link.
type Symlink struct {
	inode.Base
	target string
}

func (fs *FS) newSymlink(target string, creds ioctx.Credentials) *Symlink {
	s := &Symlink{target: target}
	s.Init(fs.nextIno(), fs.dev, inode.KindRegular, unix.S_IFLNK|0o777, creds.EUID, creds.EGID)
	s.SetSize(int64(len(target)))

	return s
}

// Readlink implements [inode.Readlinker]. The target is truncated to count
// bytes and not terminated.
func (s *Symlink) Readlink(ctx *ioctx.Context, dst uintptr, count int) (int, error) {
	if count < 0 {
		return 0, fmt.Errorf("(ramfs-readlink) %w", unix.EINVAL)
	}

	n, err := ctx.CopyToDest(dst, []byte(s.target)[:min(count, len(s.target))])
	if err != nil && n == 0 {
		return 0, fmt.Errorf("(ramfs-readlink) %w", err)
	}

	return n, nil
}

// Target returns the link target.
func (s *Symlink) Target() string {
	return s.target
}
