// Package mount implements the mount table, a registry mapping the identity
// of a mount point to the root object substituted for it during traversal.
package mount

import (
	"log/slog"
	"sync"

	"github.com/zhoujie-jay/kcore/internal/inode"
)

// Entry is a single mount. Bind entries are lightweight aliases that are not
// notified on removal.
type Entry struct {
	Ino  uint64
	Dev  uint64
	Root inode.Inode
	Bind bool
}

// Table is the mount table. Entries for the same identity may be stacked;
// the most recently added one shadows the others.
type Table struct {
	sync.Mutex
	entries []Entry
}

// NewTable returns a pointer to a new, empty [Table].
func NewTable() *Table {
	return &Table{}
}

// AddMount registers root at the identity (ino, dev). The table takes its own
// reference on root.
func (t *Table) AddMount(ino, dev uint64, root inode.Inode, bind bool) {
	root.IncRef()

	t.Lock()
	t.entries = append(t.entries, Entry{Ino: ino, Dev: dev, Root: root, Bind: bind})
	t.Unlock()

	slog.Debug("Mount added",
		"ino", ino,
		"dev", dev,
		"root_ino", root.Ino(),
		"root_dev", root.Dev(),
		"bind", bind,
	)
}

func (t *Table) lastIndex(ino, dev uint64) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Ino == ino && t.entries[i].Dev == dev {
			return i
		}
	}

	return -1
}

// Lookup returns the root mounted at (ino, dev), carrying a new reference
// owned by the caller.
func (t *Table) Lookup(ino, dev uint64) (inode.Inode, bool) {
	t.Lock()
	defer t.Unlock()

	i := t.lastIndex(ino, dev)
	if i < 0 {
		return nil, false
	}

	root := t.entries[i].Root
	root.IncRef()

	return root, true
}

// Remove unregisters the most recent mount at (ino, dev). The table's
// reference on the root is transferred to the caller.
func (t *Table) Remove(ino, dev uint64) (Entry, bool) {
	t.Lock()
	defer t.Unlock()

	i := t.lastIndex(ino, dev)
	if i < 0 {
		return Entry{}, false
	}

	e := t.entries[i]
	t.entries = append(t.entries[:i], t.entries[i+1:]...)

	return e, true
}

// Entries returns a snapshot of the table in registration order. The roots
// carry no extra reference.
func (t *Table) Entries() []Entry {
	t.Lock()
	defer t.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)

	return out
}

// Len returns the number of registered mounts.
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.entries)
}

// Clear removes every entry, dropping the table's references.
func (t *Table) Clear() {
	t.Lock()
	entries := t.entries
	t.entries = nil
	t.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].Root.DecRef()
	}
}
