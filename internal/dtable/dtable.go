// Package dtable implements the per-process descriptor table, mapping small
// integers to shared references of open descriptions.
package dtable

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	FlagCloseOnExec = 1 << iota
	FlagCloseOnFork

	flagMask = FlagCloseOnExec | FlagCloseOnFork

	minCapacity = 8
)

// Descriptor is what a table slot holds a shared reference to.
type Descriptor interface {
	IncRef()
	DecRef()
}

type entry struct {
	desc  Descriptor
	flags int
}

// Table is a descriptor table. All operations are serialized by one lock.
type Table struct {
	sync.Mutex
	entries       []entry
	firstNotTaken int
	limit         int
}

// New returns a pointer to a new, empty [Table] holding at most limit
// descriptors.
func New(limit int) *Table {
	return &Table{
		limit: limit,
	}
}

func validFlags(flags int) bool {
	return flags&^flagMask == 0
}

func (t *Table) valid(index int) bool {
	return index >= 0 && index < len(t.entries) && t.entries[index].desc != nil
}

// grow enlarges the table to hold index, doubling it when that is larger.
func (t *Table) grow(index int) error {
	if index < len(t.entries) {
		return nil
	}

	if index >= t.limit {
		return unix.EMFILE
	}

	size := max(2*len(t.entries), minCapacity, index+1)
	size = min(size, t.limit)

	entries := make([]entry, size)
	copy(entries, t.entries)
	t.entries = entries

	return nil
}

func (t *Table) allocate(desc Descriptor, flags int, minIndex int) (int, error) {
	if !validFlags(flags) || minIndex < 0 {
		return -1, unix.EINVAL
	}

	start := max(t.firstNotTaken, minIndex)

	for i := start; i < len(t.entries); i++ {
		if t.entries[i].desc == nil {
			t.install(i, desc, flags)

			return i, nil
		}
	}

	index := max(len(t.entries), minIndex)
	if err := t.grow(index); err != nil {
		return -1, err
	}

	t.install(index, desc, flags)

	return index, nil
}

// install stores desc at a free index, taking a reference.
func (t *Table) install(index int, desc Descriptor, flags int) {
	desc.IncRef()
	t.entries[index] = entry{desc: desc, flags: flags}

	if index == t.firstNotTaken {
		t.advance()
	}
}

// advance moves firstNotTaken past every occupied slot.
func (t *Table) advance() {
	for t.firstNotTaken < len(t.entries) && t.entries[t.firstNotTaken].desc != nil {
		t.firstNotTaken++
	}
}

// Allocate installs desc at the lowest free index not below minIndex. The
// table takes its own reference on desc.
func (t *Table) Allocate(desc Descriptor, flags int, minIndex int) (int, error) {
	if desc == nil {
		return -1, fmt.Errorf("(dtable-alloc) %w", unix.EINVAL)
	}

	t.Lock()
	defer t.Unlock()

	index, err := t.allocate(desc, flags, minIndex)
	if err != nil {
		return -1, fmt.Errorf("(dtable-alloc) %w", err)
	}

	return index, nil
}

// AllocateDup installs the descriptor found at src at the lowest free index
// not below minIndex.
func (t *Table) AllocateDup(src int, flags int, minIndex int) (int, error) {
	t.Lock()
	defer t.Unlock()

	if !t.valid(src) {
		return -1, fmt.Errorf("(dtable-dup) %w", unix.EBADF)
	}

	index, err := t.allocate(t.entries[src].desc, flags, minIndex)
	if err != nil {
		return -1, fmt.Errorf("(dtable-dup) %w", err)
	}

	return index, nil
}

// Copy installs the descriptor found at from into exactly the slot to,
// closing whatever was there.
func (t *Table) Copy(from, to int, flags int) (int, error) {
	if from == to || to < 0 || !validFlags(flags) {
		return -1, fmt.Errorf("(dtable-copy) %w", unix.EINVAL)
	}

	t.Lock()

	if !t.valid(from) {
		t.Unlock()

		return -1, fmt.Errorf("(dtable-copy) %w", unix.EBADF)
	}

	if err := t.grow(to); err != nil {
		t.Unlock()

		return -1, fmt.Errorf("(dtable-copy) %w", err)
	}

	var old Descriptor
	if t.entries[to].desc != nil {
		old = t.free(to)
	}

	t.install(to, t.entries[from].desc, flags)
	t.Unlock()

	if old != nil {
		old.DecRef()
	}

	return to, nil
}

// Get returns the descriptor at index with a new reference for the caller.
func (t *Table) Get(index int) (Descriptor, error) {
	t.Lock()
	defer t.Unlock()

	if !t.valid(index) {
		return nil, fmt.Errorf("(dtable-get) %w", unix.EBADF)
	}

	desc := t.entries[index].desc
	desc.IncRef()

	return desc, nil
}

// GetFlags returns the slot flags at index.
func (t *Table) GetFlags(index int) (int, error) {
	t.Lock()
	defer t.Unlock()

	if !t.valid(index) {
		return -1, fmt.Errorf("(dtable-getflags) %w", unix.EBADF)
	}

	return t.entries[index].flags, nil
}

// SetFlags replaces the slot flags at index.
func (t *Table) SetFlags(index int, flags int) error {
	t.Lock()
	defer t.Unlock()

	if !t.valid(index) {
		return fmt.Errorf("(dtable-setflags) %w", unix.EBADF)
	}

	if !validFlags(flags) {
		return fmt.Errorf("(dtable-setflags) %w", unix.EINVAL)
	}

	t.entries[index].flags = flags

	return nil
}

// free clears an occupied slot and hands its reference to the caller.
func (t *Table) free(index int) Descriptor {
	desc := t.entries[index].desc
	if desc == nil {
		panic(fmt.Sprintf("dtable: freeing empty slot %d", index))
	}

	t.entries[index] = entry{}

	if index < t.firstNotTaken {
		t.firstNotTaken = index
	}

	return desc
}

// FreeKeep clears the slot at index and returns its descriptor. The table's
// reference is transferred to the caller.
func (t *Table) FreeKeep(index int) (Descriptor, error) {
	t.Lock()
	defer t.Unlock()

	if !t.valid(index) {
		return nil, fmt.Errorf("(dtable-free) %w", unix.EBADF)
	}

	return t.free(index), nil
}

// Free clears the slot at index, dropping the table's reference.
func (t *Table) Free(index int) error {
	desc, err := t.FreeKeep(index)
	if err != nil {
		return err
	}

	desc.DecRef()

	return nil
}

// Fork returns a new table sharing every descriptor not flagged
// [FlagCloseOnFork]. Shared slots keep their flags.
func (t *Table) Fork() *Table {
	t.Lock()
	defer t.Unlock()

	child := New(t.limit)
	child.entries = make([]entry, len(t.entries))

	for i, e := range t.entries {
		if e.desc == nil || e.flags&FlagCloseOnFork != 0 {
			continue
		}

		e.desc.IncRef()
		child.entries[i] = e
	}

	child.advance()

	return child
}

// OnExecute closes every descriptor flagged [FlagCloseOnExec].
func (t *Table) OnExecute() {
	var closed []Descriptor

	t.Lock()
	for i, e := range t.entries {
		if e.desc != nil && e.flags&FlagCloseOnExec != 0 {
			closed = append(closed, t.free(i))
		}
	}
	t.Unlock()

	for _, desc := range closed {
		desc.DecRef()
	}
}

// Next returns the first occupied index after index, or -1.
func (t *Table) Next(index int) int {
	t.Lock()
	defer t.Unlock()

	for i := max(index+1, 0); i < len(t.entries); i++ {
		if t.entries[i].desc != nil {
			return i
		}
	}

	return -1
}

// Previous returns the last occupied index before index, or -1.
func (t *Table) Previous(index int) int {
	t.Lock()
	defer t.Unlock()

	for i := min(index, len(t.entries)) - 1; i >= 0; i-- {
		if t.entries[i].desc != nil {
			return i
		}
	}

	return -1
}

// CloseFrom closes every descriptor at or above index. It fails when there
// was nothing to close.
func (t *Table) CloseFrom(index int) error {
	if index < 0 {
		return fmt.Errorf("(dtable-closefrom) %w", unix.EINVAL)
	}

	var closed []Descriptor

	t.Lock()
	for i := index; i < len(t.entries); i++ {
		if t.entries[i].desc != nil {
			closed = append(closed, t.free(i))
		}
	}
	t.Unlock()

	if len(closed) == 0 {
		return fmt.Errorf("(dtable-closefrom) %w", unix.EBADF)
	}

	for _, desc := range closed {
		desc.DecRef()
	}

	return nil
}

// Close frees every slot.
func (t *Table) Close() {
	_ = t.CloseFrom(0)
}

// Len returns the current capacity of the table.
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.entries)
}

// Count returns the number of occupied slots.
func (t *Table) Count() int {
	t.Lock()
	defer t.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.desc != nil {
			n++
		}
	}

	return n
}

// FirstNotTaken returns the lower bound on the smallest free index.
func (t *Table) FirstNotTaken() int {
	t.Lock()
	defer t.Unlock()

	return t.firstNotTaken
}
