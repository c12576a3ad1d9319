package inode

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

type plainNode struct {
	Base
}

func newPlain(kind Kind, mode uint32) *plainNode {
	n := &plainNode{}
	n.Init(10, 1, kind, mode, 0, 0)

	return n
}

type ttyNode struct {
	Base
	pgrp int
}

func (t *ttyNode) Tcsetpgrp(_ *ioctx.Context, pgid int) error {
	t.pgrp = pgid

	return nil
}

func (t *ttyNode) Tcgetpgrp(*ioctx.Context) (int, error) {
	return t.pgrp, nil
}

type socketNode struct {
	Base
	backlog int
}

func (s *socketNode) Listen(_ *ioctx.Context, backlog int) error {
	s.backlog = backlog

	return nil
}

func testContext(t *testing.T) *ioctx.Context {
	t.Helper()

	return ioctx.New(t.Context(), ioctx.Root(), ioctx.Identity{Ino: 1, Dev: 1}, ioctx.KernelBuffer(nil))
}

// TestReject_Policy_Success tests the default outcome of unsupported verbs
// for every kind.
func TestReject_Policy_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		op   Op
		want error
	}{
		{"read on directory", KindDirectory, OpRead, unix.EISDIR},
		{"read on regular", KindRegular, OpRead, unix.EBADF},
		{"pread on stream", KindStream, OpPRead, unix.ESPIPE},
		{"pwrite on directory", KindDirectory, OpPWrite, unix.EISDIR},
		{"truncate on socket", KindSocket, OpTruncate, unix.EINVAL},
		{"lseek on tty", KindTTY, OpLseek, unix.ESPIPE},
		{"sync on regular", KindRegular, OpSync, nil},
		{"sync on directory", KindDirectory, OpSync, nil},
		{"sync on stream", KindStream, OpSync, unix.EINVAL},
		{"readdir on regular", KindRegular, OpReadDir, unix.ENOTDIR},
		{"readdir on directory", KindDirectory, OpReadDir, unix.EBADF},
		{"open on regular", KindRegular, OpOpen, unix.ENOTDIR},
		{"open on directory", KindDirectory, OpOpen, unix.ENOENT},
		{"mkdir on directory", KindDirectory, OpMkdir, unix.EPERM},
		{"rename on tty", KindTTY, OpRename, unix.ENOTDIR},
		{"readlink on regular", KindRegular, OpReadlink, unix.EINVAL},
		{"tcgetpgrp on regular", KindRegular, OpTcgetpgrp, unix.ENOTTY},
		{"tcgetpgrp on tty", KindTTY, OpTcgetpgrp, unix.EBADF},
		{"accept on regular", KindRegular, OpAccept, unix.ENOTSOCK},
		{"accept on socket", KindSocket, OpAccept, unix.EOPNOTSUPP},
		{"ioctl on tty", KindTTY, OpIoctl, unix.ENOTTY},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Reject(tt.kind, tt.op)
			if tt.want == nil {
				require.NoError(t, err)

				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// TestReject_Unknown_Fail tests out of range verbs and kinds.
func TestReject_Unknown_Fail(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Reject(KindRegular, numOps), unix.ENOSYS)
	require.ErrorIs(t, Reject(KindRegular, Op(-1)), unix.ENOSYS)
	require.ErrorIs(t, Reject(Kind(42), OpRead), unix.EOPNOTSUPP)
}

// TestReject_Complete_Success tests that every verb has a policy for every
// kind.
func TestReject_Complete_Success(t *testing.T) {
	t.Parallel()

	for op := OpRead; op < numOps; op++ {
		for _, kind := range []Kind{KindRegular, KindDirectory, KindStream, KindTTY, KindSocket} {
			require.NotErrorIs(t, Reject(kind, op), unix.EOPNOTSUPP, "%s on %s", op, kind)
		}
		assert.NotEqual(t, "unknown", op.String())
	}
}

// TestDispatch_Trait_Success tests that implemented traits are called.
func TestDispatch_Trait_Success(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	tty := &ttyNode{}
	tty.Init(2, 1, KindTTY, unix.S_IFCHR|0o620, 0, 0)

	require.NoError(t, Tcsetpgrp(ctx, tty, 77))
	pgrp, err := Tcgetpgrp(ctx, tty)
	require.NoError(t, err)
	assert.Equal(t, 77, pgrp)

	require.ErrorIs(t, Tcgetwinsize(ctx, tty, 0), unix.EBADF)
	require.ErrorIs(t, Listen(ctx, tty, 1), unix.ENOTSOCK)

	sock := &socketNode{}
	sock.Init(3, 1, KindSocket, unix.S_IFSOCK|0o600, 0, 0)

	require.NoError(t, Listen(ctx, sock, 16))
	assert.Equal(t, 16, sock.backlog)

	_, err = Accept(ctx, sock, 0)
	require.ErrorIs(t, err, unix.EOPNOTSUPP)

	_, err = Tcgetpgrp(ctx, sock)
	require.ErrorIs(t, err, unix.ENOTTY)

	assert.True(t, Supports(sock, OpListen))
	assert.False(t, Supports(sock, OpAccept))
	assert.True(t, Supports(tty, OpTcsetpgrp))
	assert.False(t, Supports(tty, OpRead))
}

// TestDispatch_Default_Success tests fallbacks on a plain object.
func TestDispatch_Default_Success(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	dir := newPlain(KindDirectory, unix.S_IFDIR|0o755)

	_, err := Read(ctx, dir, 0, 1)
	require.ErrorIs(t, err, unix.EISDIR)

	_, err = Open(ctx, dir, "x", 0, 0)
	require.ErrorIs(t, err, unix.ENOENT)

	require.NoError(t, Sync(ctx, dir))
	require.ErrorIs(t, Link(ctx, dir, "x", dir), unix.EPERM)

	// No-op without the trait.
	Unmounted(ctx, dir)
}

// TestBase_Metadata_Success tests the metadata verbs.
func TestBase_Metadata_Success(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	n := newPlain(KindRegular, unix.S_IFREG|0o644)

	require.NoError(t, n.Chmod(ctx, 0o4711|unix.S_IFDIR))
	assert.Equal(t, uint32(unix.S_IFREG), n.Type())

	require.NoError(t, n.Chown(ctx, 1000, ^uint32(0)))
	n.SetSize(1025)
	n.Linked()
	n.Linked()
	n.Unlinked()

	st, err := n.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), st.Ino)
	assert.Equal(t, uint64(1), st.Dev)
	assert.Equal(t, uint32(unix.S_IFREG|0o4711), st.Mode)
	assert.Equal(t, uint32(1000), st.UID)
	assert.Equal(t, uint32(0), st.GID)
	assert.Equal(t, uint32(1), st.Nlink)
	assert.Equal(t, int64(1025), st.Size)
	assert.Equal(t, int64(3), st.Blocks)
	assert.Equal(t, int32(DefaultBlockSize), st.Blksize)
}

// TestBase_Utimens_Success tests explicit, omitted and current timestamps.
func TestBase_Utimens_Success(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	n := newPlain(KindRegular, unix.S_IFREG|0o644)

	before, err := n.Stat(ctx)
	require.NoError(t, err)

	explicit := unix.Timespec{Sec: 12345, Nsec: 6}
	require.NoError(t, n.Utimens(ctx, explicit, unix.Timespec{Nsec: unix.UTIME_OMIT}))

	st, err := n.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, explicit, st.Atime)
	assert.Equal(t, before.Mtime, st.Mtime)

	require.NoError(t, n.Utimens(ctx, unix.Timespec{Nsec: unix.UTIME_OMIT}, unix.Timespec{Nsec: unix.UTIME_NOW}))

	st, err = n.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, explicit, st.Atime)
	assert.GreaterOrEqual(t, st.Mtime.Nano(), before.Mtime.Nano())
}

// TestBase_Refs_Success tests that the release hook runs exactly once under
// concurrent reference traffic.
func TestBase_Refs_Success(t *testing.T) {
	t.Parallel()

	n := newPlain(KindRegular, unix.S_IFREG|0o644)

	var released atomic.Int32
	n.SetReleaseHook(func() { released.Add(1) })

	var wg sync.WaitGroup
	for range 64 {
		n.IncRef()
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.DecRef()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), n.Refs())
	assert.Zero(t, released.Load())

	n.DecRef()
	assert.Equal(t, int32(1), released.Load())
}

// TestBase_TryIncRef_Success tests that no reference is taken once the
// object was released.
func TestBase_TryIncRef_Success(t *testing.T) {
	t.Parallel()

	n := newPlain(KindRegular, unix.S_IFREG|0o644)

	require.True(t, n.TryIncRef())
	assert.Equal(t, int64(2), n.Refs())

	n.DecRef()
	n.DecRef()

	assert.False(t, n.TryIncRef())
	assert.Zero(t, n.Refs())
}

// TestBase_SizeSource_Success tests that a size source overrides the
// recorded size.
func TestBase_SizeSource_Success(t *testing.T) {
	t.Parallel()

	n := newPlain(KindRegular, unix.S_IFREG|0o644)
	n.SetSize(10)

	var size atomic.Int64
	size.Store(1025)
	n.SetSizeSource(size.Load)

	st, err := n.Stat(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1025), st.Size)
	assert.Equal(t, int64(3), st.Blocks)
	assert.Equal(t, int64(1025), n.Size())
}

// TestBase_Invariants_Panic tests the programming error assertions.
func TestBase_Invariants_Panic(t *testing.T) {
	t.Parallel()

	n := newPlain(KindRegular, unix.S_IFREG|0o644)
	n.DecRef()
	assert.Panics(t, func() { n.DecRef() })

	m := newPlain(KindRegular, unix.S_IFREG|0o644)
	assert.Panics(t, func() { m.Unlinked() })

	assert.Panics(t, func() { newPlain(KindRegular, 0o644) })
}
