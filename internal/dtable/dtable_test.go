package dtable

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type testDesc struct {
	refs atomic.Int64
}

func newTestDesc() *testDesc {
	d := &testDesc{}
	d.refs.Store(1)

	return d
}

func (d *testDesc) IncRef() {
	d.refs.Add(1)
}

func (d *testDesc) DecRef() {
	if d.refs.Add(-1) < 0 {
		panic("testDesc: reference count below zero")
	}
}

// smallestFree returns the true smallest free index of the table.
func smallestFree(t *Table) int {
	t.Lock()
	defer t.Unlock()

	for i, e := range t.entries {
		if e.desc == nil {
			return i
		}
	}

	return len(t.entries)
}

// TestTable_Allocate_Success tests allocation order, growth and references.
func TestTable_Allocate_Success(t *testing.T) {
	t.Parallel()

	tbl := New(64)
	d := newTestDesc()

	for want := range 10 {
		got, err := tbl.Allocate(d, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	assert.Equal(t, int64(11), d.refs.Load())
	assert.Equal(t, 16, tbl.Len())
	assert.Equal(t, 10, tbl.FirstNotTaken())

	require.NoError(t, tbl.Free(3))
	assert.Equal(t, 3, tbl.FirstNotTaken())

	got, err := tbl.Allocate(d, FlagCloseOnExec, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	flags, err := tbl.GetFlags(3)
	require.NoError(t, err)
	assert.Equal(t, FlagCloseOnExec, flags)
}

// TestTable_Allocate_MinIndex_Success tests growth straight to a large
// minimum index.
func TestTable_Allocate_MinIndex_Success(t *testing.T) {
	t.Parallel()

	tbl := New(1024)
	d := newTestDesc()

	got, err := tbl.Allocate(d, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, got)
	assert.Equal(t, 101, tbl.Len())
	assert.Zero(t, tbl.FirstNotTaken())

	got, err = tbl.Allocate(d, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, got)
}

// TestTable_Allocate_Fail tests argument and limit failures.
func TestTable_Allocate_Fail(t *testing.T) {
	t.Parallel()

	tbl := New(2)
	d := newTestDesc()

	_, err := tbl.Allocate(d, 4, 0)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = tbl.Allocate(d, 0, -1)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = tbl.Allocate(nil, 0, 0)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = tbl.Allocate(d, 0, 0)
	require.NoError(t, err)
	_, err = tbl.Allocate(d, 0, 0)
	require.NoError(t, err)

	_, err = tbl.Allocate(d, 0, 0)
	require.ErrorIs(t, err, unix.EMFILE)

	_, err = New(8).Allocate(d, 0, 8)
	require.ErrorIs(t, err, unix.EMFILE)

	assert.Equal(t, int64(3), d.refs.Load())
}

// TestTable_Free_Twice_Fail tests that a second free reports a bad handle
// and leaves the free index bound intact.
func TestTable_Free_Twice_Fail(t *testing.T) {
	t.Parallel()

	tbl := New(16)
	d := newTestDesc()

	for range 4 {
		_, err := tbl.Allocate(d, 0, 0)
		require.NoError(t, err)
	}

	require.NoError(t, tbl.Free(2))
	assert.Equal(t, 2, tbl.FirstNotTaken())

	require.ErrorIs(t, tbl.Free(2), unix.EBADF)
	assert.Equal(t, 2, tbl.FirstNotTaken())

	require.ErrorIs(t, tbl.Free(-1), unix.EBADF)
	require.ErrorIs(t, tbl.Free(100), unix.EBADF)

	assert.Equal(t, int64(4), d.refs.Load())
}

// TestTable_AllocateDup_Success tests duplicating an existing slot.
func TestTable_AllocateDup_Success(t *testing.T) {
	t.Parallel()

	tbl := New(16)
	d := newTestDesc()

	_, err := tbl.Allocate(d, FlagCloseOnExec, 0)
	require.NoError(t, err)

	got, err := tbl.AllocateDup(0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	flags, err := tbl.GetFlags(5)
	require.NoError(t, err)
	assert.Zero(t, flags)

	desc, err := tbl.Get(5)
	require.NoError(t, err)
	assert.Same(t, d, desc)
	desc.DecRef()

	_, err = tbl.AllocateDup(1, 0, 0)
	require.ErrorIs(t, err, unix.EBADF)
}

// TestTable_Copy_Success tests installing into an exact slot, replacing the
// previous occupant.
func TestTable_Copy_Success(t *testing.T) {
	t.Parallel()

	tbl := New(64)
	a := newTestDesc()
	b := newTestDesc()

	_, err := tbl.Allocate(a, 0, 0)
	require.NoError(t, err)
	_, err = tbl.Allocate(b, 0, 0)
	require.NoError(t, err)

	got, err := tbl.Copy(0, 1, FlagCloseOnFork)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, int64(1), b.refs.Load())
	assert.Equal(t, int64(3), a.refs.Load())

	got, err = tbl.Copy(0, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, got)
	assert.Equal(t, 41, tbl.Len())

	desc, err := tbl.Get(40)
	require.NoError(t, err)
	assert.Same(t, a, desc)
	desc.DecRef()
}

// TestTable_Copy_Fail tests copy argument checks.
func TestTable_Copy_Fail(t *testing.T) {
	t.Parallel()

	tbl := New(8)
	d := newTestDesc()

	_, err := tbl.Allocate(d, 0, 0)
	require.NoError(t, err)

	_, err = tbl.Copy(0, 0, 0)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = tbl.Copy(0, 1, 8)
	require.ErrorIs(t, err, unix.EINVAL)

	_, err = tbl.Copy(3, 1, 0)
	require.ErrorIs(t, err, unix.EBADF)

	_, err = tbl.Copy(0, 8, 0)
	require.ErrorIs(t, err, unix.EMFILE)
}

// TestTable_Fork_Success tests that fork shares every slot not flagged
// close-on-fork and leaves flagged slots empty.
func TestTable_Fork_Success(t *testing.T) {
	t.Parallel()

	tbl := New(32)
	descs := make([]*testDesc, 6)
	flags := []int{0, FlagCloseOnFork, FlagCloseOnExec, FlagCloseOnFork | FlagCloseOnExec, 0, FlagCloseOnFork}

	for i := range descs {
		descs[i] = newTestDesc()
		_, err := tbl.Allocate(descs[i], flags[i], 0)
		require.NoError(t, err)
	}

	child := tbl.Fork()

	for i := range descs {
		if flags[i]&FlagCloseOnFork != 0 {
			_, err := child.Get(i)
			require.ErrorIs(t, err, unix.EBADF)
			assert.Equal(t, int64(2), descs[i].refs.Load())

			continue
		}

		got, err := child.Get(i)
		require.NoError(t, err)
		assert.Same(t, descs[i], got)
		got.DecRef()

		f, err := child.GetFlags(i)
		require.NoError(t, err)
		assert.Equal(t, flags[i], f)
		assert.Equal(t, int64(3), descs[i].refs.Load())
	}

	assert.Equal(t, 1, child.FirstNotTaken())

	child.Close()
	for i := range descs {
		assert.Equal(t, int64(2), descs[i].refs.Load())
	}
}

// TestTable_OnExecute_Success tests that exec closes flagged slots only.
func TestTable_OnExecute_Success(t *testing.T) {
	t.Parallel()

	tbl := New(8)
	keep := newTestDesc()
	drop := newTestDesc()

	_, err := tbl.Allocate(keep, FlagCloseOnFork, 0)
	require.NoError(t, err)
	_, err = tbl.Allocate(drop, FlagCloseOnExec, 0)
	require.NoError(t, err)

	tbl.OnExecute()

	assert.Equal(t, 1, tbl.Count())
	assert.Equal(t, int64(1), drop.refs.Load())
	assert.Equal(t, int64(2), keep.refs.Load())
	assert.Equal(t, 1, tbl.FirstNotTaken())
}

// TestTable_Iteration_Success tests ordered iteration over occupied slots.
func TestTable_Iteration_Success(t *testing.T) {
	t.Parallel()

	tbl := New(32)
	d := newTestDesc()

	for _, i := range []int{1, 4, 9} {
		_, err := tbl.Allocate(d, 0, i)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, tbl.Next(-1))
	assert.Equal(t, 4, tbl.Next(1))
	assert.Equal(t, 9, tbl.Next(4))
	assert.Equal(t, -1, tbl.Next(9))

	assert.Equal(t, 9, tbl.Previous(100))
	assert.Equal(t, 4, tbl.Previous(9))
	assert.Equal(t, 1, tbl.Previous(4))
	assert.Equal(t, -1, tbl.Previous(1))
}

// TestTable_CloseFrom_Success tests closing a range of slots.
func TestTable_CloseFrom_Success(t *testing.T) {
	t.Parallel()

	tbl := New(32)
	d := newTestDesc()

	for range 6 {
		_, err := tbl.Allocate(d, 0, 0)
		require.NoError(t, err)
	}

	require.NoError(t, tbl.CloseFrom(3))
	assert.Equal(t, 3, tbl.Count())
	assert.Equal(t, 3, tbl.FirstNotTaken())
	assert.Equal(t, int64(4), d.refs.Load())

	require.ErrorIs(t, tbl.CloseFrom(3), unix.EBADF)
	require.ErrorIs(t, tbl.CloseFrom(-1), unix.EINVAL)
}

// TestTable_Randomized_Invariants tests the free index bound and slot
// exclusivity over random allocate and free sequences.
func TestTable_Randomized_Invariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec
	tbl := New(256)
	d := newTestDesc()
	occupied := map[int]bool{}

	for range 5000 {
		switch rng.IntN(3) {
		case 0, 1:
			index, err := tbl.Allocate(d, 0, rng.IntN(40))
			if err != nil {
				require.ErrorIs(t, err, unix.EMFILE)

				break
			}
			require.False(t, occupied[index], "index %d handed out twice", index)
			occupied[index] = true

		case 2:
			index := rng.IntN(260)
			err := tbl.Free(index)
			if occupied[index] {
				require.NoError(t, err)
				delete(occupied, index)
			} else {
				require.ErrorIs(t, err, unix.EBADF)
			}
		}

		require.LessOrEqual(t, tbl.FirstNotTaken(), smallestFree(tbl))
	}

	assert.Equal(t, len(occupied), tbl.Count())
	assert.Equal(t, int64(len(occupied)+1), d.refs.Load())
}

// TestTable_Concurrent_Success tests concurrent allocation from many
// goroutines.
func TestTable_Concurrent_Success(t *testing.T) {
	t.Parallel()

	tbl := New(1024)
	d := newTestDesc()

	var mu sync.Mutex
	seen := map[int]bool{}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 32 {
				index, err := tbl.Allocate(d, 0, 0)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[index])
				seen[index] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 512)
	assert.Equal(t, 512, tbl.FirstNotTaken())
}
