package mount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhoujie-jay/kcore/internal/inode"
	"golang.org/x/sys/unix"
)

type rootNode struct {
	inode.Base
}

func newRoot(ino, dev uint64) *rootNode {
	n := &rootNode{}
	n.Init(ino, dev, inode.KindDirectory, unix.S_IFDIR|0o755, 0, 0)

	return n
}

// TestTable_Lookup_Success tests registering and looking up a mount.
func TestTable_Lookup_Success(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	root := newRoot(1, 2)

	tbl.AddMount(5, 1, root, false)
	assert.Equal(t, int64(2), root.Refs())

	got, ok := tbl.Lookup(5, 1)
	require.True(t, ok)
	assert.Same(t, root, got)
	assert.Equal(t, int64(3), root.Refs())
	got.DecRef()

	_, ok = tbl.Lookup(5, 2)
	assert.False(t, ok)

	_, ok = tbl.Lookup(6, 1)
	assert.False(t, ok)
}

// TestTable_Stacked_Success tests that the most recently added mount at an
// identity wins and that removal uncovers the previous one.
func TestTable_Stacked_Success(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	first := newRoot(1, 2)
	second := newRoot(1, 3)

	tbl.AddMount(5, 1, first, false)
	tbl.AddMount(5, 1, second, true)
	assert.Equal(t, 2, tbl.Len())

	got, ok := tbl.Lookup(5, 1)
	require.True(t, ok)
	assert.Same(t, second, got)
	got.DecRef()

	e, ok := tbl.Remove(5, 1)
	require.True(t, ok)
	assert.Same(t, second, e.Root)
	assert.True(t, e.Bind)
	e.Root.DecRef()
	assert.Equal(t, int64(1), second.Refs())

	got, ok = tbl.Lookup(5, 1)
	require.True(t, ok)
	assert.Same(t, first, got)
	got.DecRef()

	entries := tbl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(5), entries[0].Ino)
	assert.False(t, entries[0].Bind)
}

// TestTable_Remove_Fail tests removal of a missing identity.
func TestTable_Remove_Fail(t *testing.T) {
	t.Parallel()

	tbl := NewTable()

	_, ok := tbl.Remove(1, 1)
	assert.False(t, ok)
}

// TestTable_Clear_Success tests that clearing drops every table reference.
func TestTable_Clear_Success(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	a := newRoot(1, 2)
	b := newRoot(1, 3)

	tbl.AddMount(5, 1, a, false)
	tbl.AddMount(6, 1, b, false)
	tbl.Clear()

	assert.Zero(t, tbl.Len())
	assert.Equal(t, int64(1), a.Refs())
	assert.Equal(t, int64(1), b.Refs())
}

// TestTable_Concurrent_Success tests concurrent registration and lookup.
func TestTable_Concurrent_Success(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	root := newRoot(1, 2)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.AddMount(uint64(i), 1, root, true) //nolint:gosec
			if got, ok := tbl.Lookup(uint64(i), 1); ok { //nolint:gosec
				got.DecRef()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, tbl.Len())
	assert.Equal(t, int64(33), root.Refs())
}
