package ioctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestUserBuffer_RoundTrip_Success tests copying into and out of a region.
func TestUserBuffer_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	buf := NewUserBuffer(0x1000, 8)

	n, err := buf.CopyToDest(0x1002, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 'a', 'b', 'c', 0, 0, 0}, buf.Bytes())

	out := make([]byte, 3)
	n, err = buf.CopyFromSrc(out, 0x1002)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("abc"), out)
}

// TestUserBuffer_Fault_Partial tests that a copy crossing the fault address
// moves the bytes before it and reports EFAULT.
func TestUserBuffer_Fault_Partial(t *testing.T) {
	t.Parallel()

	buf := NewUserBufferFrom(0x1000, []byte("0123456789"))
	buf.SetFault(0x1004)

	out := make([]byte, 8)
	n, err := buf.CopyFromSrc(out, 0x1000)
	require.ErrorIs(t, err, unix.EFAULT)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("0123"), out[:n])

	n, err = buf.CopyToDest(0x1002, []byte("zzzz"))
	require.ErrorIs(t, err, unix.EFAULT)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("01zz456789"), buf.Bytes())
}

// TestUserBuffer_OutOfRange_Fail tests copies entirely outside the region.
func TestUserBuffer_OutOfRange_Fail(t *testing.T) {
	t.Parallel()

	buf := NewUserBuffer(0x1000, 4)

	n, err := buf.CopyToDest(0x10, []byte("a"))
	require.ErrorIs(t, err, unix.EFAULT)
	assert.Zero(t, n)

	n, err = buf.CopyFromSrc(make([]byte, 1), 0x2000)
	require.ErrorIs(t, err, unix.EFAULT)
	assert.Zero(t, n)
}

// TestKernelBuffer_Success tests the kernel-side copier.
func TestKernelBuffer_Success(t *testing.T) {
	t.Parallel()

	kb := KernelBuffer(make([]byte, 4))

	n, err := kb.CopyToDest(1, []byte("xy"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := make([]byte, 4)
	n, err = kb.CopyFromSrc(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 'x', 'y', 0}, out)

	n, err = kb.CopyToDest(3, []byte("xy"))
	require.ErrorIs(t, err, unix.EFAULT)
	assert.Equal(t, 1, n)
}

// TestContext_WithRoot_Success tests deriving contexts.
func TestContext_WithRoot_Success(t *testing.T) {
	t.Parallel()

	ctx := New(t.Context(), Root(), Identity{Ino: 1, Dev: 1}, KernelBuffer(nil))
	derived := ctx.WithRoot(Identity{Ino: 7, Dev: 2})

	assert.Equal(t, Identity{Ino: 1, Dev: 1}, ctx.Root)
	assert.Equal(t, Identity{Ino: 7, Dev: 2}, derived.Root)
	assert.Equal(t, ctx.Creds, derived.Creds)
}
