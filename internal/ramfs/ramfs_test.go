package ramfs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

const testBase = 0x4000

func newTestFS(t *testing.T) (*FS, *bcache.BlockCache) {
	t.Helper()

	cache, err := bcache.New(64, 8, &bcache.Heap{})
	require.NoError(t, err)

	return New(7, cache, 1<<20, ioctx.Credentials{UID: 5, GID: 6, EUID: 5, EGID: 6}), cache
}

func testContext(t *testing.T, buf *ioctx.UserBuffer) *ioctx.Context {
	t.Helper()

	creds := ioctx.Credentials{UID: 1000, GID: 100, EUID: 1000, EGID: 100}

	return ioctx.New(t.Context(), creds, ioctx.Identity{Ino: rootIno, Dev: 7}, buf)
}

func openFile(t *testing.T, ctx *ioctx.Context, d *Dir, name string, flags int) *File {
	t.Helper()

	node, err := d.Open(ctx, name, flags, 0o644)
	require.NoError(t, err)

	f, ok := node.(*File)
	require.True(t, ok)

	return f
}

// TestFS_Root_Success tests the root directory of a new filesystem.
func TestFS_Root_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	ctx := testContext(t, nil)

	root := fs.Root()
	defer root.DecRef()

	assert.Equal(t, uint64(rootIno), root.Ino())
	assert.Equal(t, uint64(7), root.Dev())
	assert.Equal(t, inode.KindDirectory, root.Kind())
	assert.Equal(t, uint32(2), root.Nlink())

	parent, err := root.Open(ctx, "..", 0, 0)
	require.NoError(t, err)
	assert.Same(t, root, parent)
	parent.DecRef()

	st, err := root.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), st.UID)
	assert.Equal(t, uint32(unix.S_IFDIR|0o755), st.Mode)
}

// TestDir_Open_Flags tests creation and lookup flag handling.
func TestDir_Open_Flags(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	_, err := root.Open(ctx, "missing", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	f := openFile(t, ctx, root, "a", unix.O_CREAT|unix.O_RDWR)
	defer f.DecRef()

	assert.Equal(t, uint32(1), f.Nlink())
	assert.Equal(t, int64(2), f.Refs())

	st, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), st.UID)
	assert.Equal(t, uint32(100), st.GID)
	assert.Equal(t, uint32(unix.S_IFREG|0o644), st.Mode)

	_, err = root.Open(ctx, "a", unix.O_CREAT|unix.O_EXCL, 0o644)
	require.ErrorIs(t, err, unix.EEXIST)

	_, err = root.Open(ctx, "a", unix.O_DIRECTORY, 0)
	require.ErrorIs(t, err, unix.ENOTDIR)

	_, err = root.Open(ctx, "x/y", unix.O_CREAT, 0o644)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = root.Open(ctx, "", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	_, err = root.Open(ctx, string(make([]byte, MaxNameLen+1)), 0, 0)
	require.ErrorIs(t, err, unix.ENAMETOOLONG)
}

// TestFile_ReadWrite_Success tests file content through the block cache.
func TestFile_ReadWrite_Success(t *testing.T) {
	t.Parallel()

	fs, cache := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	buf := ioctx.NewUserBufferFrom(testBase, []byte("kernel bytes"))
	ctx := testContext(t, buf)

	f := openFile(t, ctx, root, "data", unix.O_CREAT|unix.O_RDWR)

	n, err := inode.PWrite(ctx, f, testBase, 12, 70)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	st, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(82), st.Size)
	assert.Equal(t, int32(64), st.Blksize)

	out := ioctx.NewUserBuffer(testBase, 12)
	n, err = inode.PRead(ctx.WithCopier(out), f, testBase, 12, 70)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []byte("kernel bytes"), out.Bytes())

	_, err = inode.Read(ctx, f, testBase, 1)
	require.ErrorIs(t, err, unix.EBADF)

	require.NoError(t, inode.Sync(ctx, f))
	assert.Equal(t, 2, cache.Stats().InUse)

	// Reopening with O_TRUNC empties the file.
	g := openFile(t, ctx, root, "data", unix.O_WRONLY|unix.O_TRUNC)
	assert.Same(t, f, g)
	assert.Zero(t, cache.Stats().InUse)
	g.DecRef()

	f.DecRef()
}

// TestFile_Size_Concurrent_Success tests that the reported size follows the
// content when truncates race with writes.
func TestFile_Size_Concurrent_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	buf := ioctx.NewUserBufferFrom(testBase, make([]byte, 400))
	ctx := testContext(t, buf)

	f := openFile(t, ctx, root, "f", unix.O_CREAT|unix.O_RDWR)
	defer f.DecRef()

	var wg sync.WaitGroup

	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()

			for range 50 {
				_, _ = f.PWrite(ctx, testBase, 100, int64(i*10))
			}
		}()
		go func() {
			defer wg.Done()

			for range 50 {
				_ = f.Truncate(ctx, int64(i*7))
			}
		}()
	}
	wg.Wait()

	st, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.Size(), st.Size)

	n, err := f.PRead(ctx, testBase+200, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, st.Size, int64(n))
}

// TestDir_Unlink_Release_Success tests that file blocks go back to the cache
// once the last name and the last reference are gone.
func TestDir_Unlink_Release_Success(t *testing.T) {
	t.Parallel()

	fs, cache := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	buf := ioctx.NewUserBufferFrom(testBase, make([]byte, 200))
	ctx := testContext(t, buf)

	f := openFile(t, ctx, root, "tmp", unix.O_CREAT|unix.O_RDWR)
	_, err := f.PWrite(ctx, testBase, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, cache.Stats().InUse)

	require.NoError(t, root.Unlink(ctx, "tmp"))
	assert.Zero(t, f.Nlink())
	assert.Equal(t, 4, cache.Stats().InUse)

	f.DecRef()
	assert.Zero(t, cache.Stats().InUse)

	require.ErrorIs(t, root.Unlink(ctx, "tmp"), unix.ENOENT)
}

// TestDir_Mkdir_Rmdir_Success tests directory link counts and removal rules.
func TestDir_Mkdir_Rmdir_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	require.NoError(t, root.Mkdir(ctx, "sub", 0o700))
	require.ErrorIs(t, root.Mkdir(ctx, "sub", 0o700), unix.EEXIST)
	assert.Equal(t, uint32(3), root.Nlink())

	node, err := root.Open(ctx, "sub", unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	sub, ok := node.(*Dir)
	require.True(t, ok)
	assert.Equal(t, uint32(2), sub.Nlink())

	up, err := sub.Open(ctx, "..", 0, 0)
	require.NoError(t, err)
	assert.Same(t, root, up)
	up.DecRef()

	f := openFile(t, ctx, sub, "f", unix.O_CREAT)
	f.DecRef()

	require.ErrorIs(t, root.Rmdir(ctx, "sub"), unix.ENOTEMPTY)
	require.ErrorIs(t, root.Unlink(ctx, "sub"), unix.EISDIR)
	require.ErrorIs(t, sub.Rmdir(ctx, "f"), unix.ENOTDIR)

	require.NoError(t, sub.Unlink(ctx, "f"))
	require.NoError(t, root.Rmdir(ctx, "sub"))
	assert.Equal(t, uint32(2), root.Nlink())
	assert.Zero(t, sub.Nlink())

	// A removed directory accepts no new entries.
	_, err = sub.Open(ctx, "g", unix.O_CREAT, 0o644)
	require.ErrorIs(t, err, unix.ENOENT)

	sub.DecRef()

	require.ErrorIs(t, root.Rmdir(ctx, "."), unix.EINVAL)
	require.ErrorIs(t, root.Rmdir(ctx, ".."), unix.ENOTEMPTY)
}

// TestDir_Rmdir_Parent_Fail tests that ".." of a removed directory is gone,
// even after its former parent was released.
func TestDir_Rmdir_Parent_Fail(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	require.NoError(t, root.Mkdir(ctx, "a", 0o755))

	node, err := root.Open(ctx, "a", unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	a, ok := node.(*Dir)
	require.True(t, ok)

	require.NoError(t, a.Mkdir(ctx, "b", 0o755))

	node, err = a.Open(ctx, "b", unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	b, ok := node.(*Dir)
	require.True(t, ok)
	defer b.DecRef()

	require.NoError(t, a.Rmdir(ctx, "b"))

	_, err = b.Open(ctx, "..", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	a.DecRef()
	require.NoError(t, root.Rmdir(ctx, "a"))
	assert.Zero(t, a.Refs())

	_, err = b.Open(ctx, "..", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	entries, err := b.ReadDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.Ino(), entries[1].Ino)
}

// TestFS_Release_Parent_Fail tests that ".." of a directory whose parent was
// released with the filesystem is gone.
func TestFS_Release_Parent_Fail(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	ctx := testContext(t, nil)

	require.NoError(t, root.Mkdir(ctx, "sub", 0o755))

	node, err := root.Open(ctx, "sub", unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	defer node.DecRef()

	root.DecRef()
	fs.Release()
	assert.Zero(t, root.Refs())

	_, err = node.(*Dir).Open(ctx, "..", 0, 0) //nolint:forcetypeassert
	require.ErrorIs(t, err, unix.ENOENT)
}

// TestDir_Link_Success tests hard links and their failures.
func TestDir_Link_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	f := openFile(t, ctx, root, "a", unix.O_CREAT)
	defer f.DecRef()

	require.NoError(t, root.Link(ctx, "b", f))
	assert.Equal(t, uint32(2), f.Nlink())

	require.ErrorIs(t, root.Link(ctx, "b", f), unix.EEXIST)
	require.ErrorIs(t, root.Link(ctx, "c", root), unix.EPERM)

	otherFS := New(8, fs.cache, 1<<20, ioctx.Root())
	otherRoot := otherFS.Root()
	defer otherRoot.DecRef()

	h := openFile(t, ctx, otherRoot, "h", unix.O_CREAT)
	defer h.DecRef()

	require.ErrorIs(t, root.Link(ctx, "h", h), unix.EXDEV)
}

// TestDir_RenameHere_Success tests renames within and across directories.
func TestDir_RenameHere_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	require.NoError(t, root.Mkdir(ctx, "d1", 0o755))
	require.NoError(t, root.Mkdir(ctx, "d2", 0o755))

	node, err := root.Open(ctx, "d1", 0, 0)
	require.NoError(t, err)
	d1 := node.(*Dir) //nolint:forcetypeassert
	defer d1.DecRef()

	node, err = root.Open(ctx, "d2", 0, 0)
	require.NoError(t, err)
	d2 := node.(*Dir) //nolint:forcetypeassert
	defer d2.DecRef()

	openFile(t, ctx, d1, "x", unix.O_CREAT).DecRef()
	openFile(t, ctx, d2, "y", unix.O_CREAT).DecRef()

	require.NoError(t, d2.RenameHere(ctx, d1, "x", "y"))
	assert.Zero(t, d1.Len())
	assert.Equal(t, 1, d2.Len())

	require.NoError(t, root.RenameHere(ctx, root, "d1", "moved"))
	_, err = root.Open(ctx, "d1", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	require.NoError(t, d2.RenameHere(ctx, root, "moved", "inner"))
	assert.Equal(t, uint32(3), d2.Nlink())
	assert.Equal(t, uint32(3), root.Nlink())

	up, err := d1.Open(ctx, "..", 0, 0)
	require.NoError(t, err)
	assert.Same(t, d2, up)
	up.DecRef()

	require.ErrorIs(t, d1.RenameHere(ctx, root, "d2", "loop"), unix.EINVAL)
	require.ErrorIs(t, d2.RenameHere(ctx, d2, "y", "inner"), unix.EISDIR)
	require.ErrorIs(t, d2.RenameHere(ctx, d2, "inner", "y"), unix.ENOTDIR)
	require.ErrorIs(t, root.RenameHere(ctx, d2, "nothing", "z"), unix.ENOENT)

	f := openFile(t, ctx, root, "plain", unix.O_CREAT)
	defer f.DecRef()
	require.ErrorIs(t, root.RenameHere(ctx, f, "a", "b"), unix.EXDEV)
}

// TestSymlink_Success tests creating and reading symbolic links.
func TestSymlink_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	out := ioctx.NewUserBuffer(testBase, 4)
	ctx := testContext(t, out)

	require.NoError(t, root.Symlink(ctx, "/target/path", "link"))
	require.ErrorIs(t, root.Symlink(ctx, "/t", "link"), unix.EEXIST)
	require.ErrorIs(t, root.Symlink(ctx, "", "empty"), unix.ENOENT)

	node, err := root.Open(ctx, "link", 0, 0)
	require.NoError(t, err)
	defer node.DecRef()

	assert.Equal(t, uint32(unix.S_IFLNK), node.Type())

	n, err := inode.Readlink(ctx, node, testBase, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("/tar"), out.Bytes())

	_, err = inode.Readlink(ctx, root, testBase, 4)
	require.ErrorIs(t, err, unix.EINVAL)
}

// TestDir_ReadDir_Success tests sorted directory listings.
func TestDir_ReadDir_Success(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t)
	root := fs.Root()
	defer root.DecRef()

	ctx := testContext(t, nil)

	require.NoError(t, root.Mkdir(ctx, "b", 0o755))
	openFile(t, ctx, root, "c", unix.O_CREAT).DecRef()
	openFile(t, ctx, root, "a", unix.O_CREAT).DecRef()

	entries, err := inode.ReadDir(ctx, root)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{".", "..", "a", "b", "c"}, names)
	assert.Equal(t, uint32(unix.S_IFDIR), entries[3].Type)
	assert.Equal(t, uint32(unix.S_IFREG), entries[2].Type)
}

// TestFS_Release_Success tests that dropping the last reference of the tree
// releases every file.
func TestFS_Release_Success(t *testing.T) {
	t.Parallel()

	fs, cache := newTestFS(t)
	root := fs.Root()

	buf := ioctx.NewUserBufferFrom(testBase, make([]byte, 100))
	ctx := testContext(t, buf)

	require.NoError(t, root.Mkdir(ctx, "d", 0o755))
	node, err := root.Open(ctx, "d", 0, 0)
	require.NoError(t, err)

	f := openFile(t, ctx, node.(*Dir), "f", unix.O_CREAT|unix.O_RDWR) //nolint:forcetypeassert
	_, err = f.PWrite(ctx, testBase, 100, 0)
	require.NoError(t, err)
	f.DecRef()
	node.DecRef()

	assert.Equal(t, 2, cache.Stats().InUse)

	root.DecRef()
	fs.Release()

	assert.Zero(t, cache.Stats().InUse)
}
