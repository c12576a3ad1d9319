// Package vfs implements traversal nodes, which wrap capability objects with
// the mount context needed to move in and out of mounted filesystems, and the
// open file descriptions stored in descriptor tables.
package vfs

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"github.com/zhoujie-jay/kcore/internal/mount"
	"golang.org/x/sys/unix"
)

// DefaultMaxMountDepth is the longest accepted chain of nested mounts.
const DefaultMaxMountDepth = 32

// Vnode is a traversal node. It holds one reference on its capability object
// and one on the node it was mounted under, if any.
type Vnode struct {
	node inode.Inode

	// mountedAt is the node that contains the mount point of the filesystem
	// this node belongs to. It is nil inside the root filesystem.
	mountedAt *Vnode

	// rootIno and rootDev identify the root of the filesystem this node
	// belongs to.
	rootIno uint64
	rootDev uint64

	mounts   *mount.Table
	maxDepth int

	refs atomic.Int64
}

// NewRoot returns a pointer to a new [Vnode] for the root of the namespace.
// It takes over the caller's reference on node.
func NewRoot(node inode.Inode, mounts *mount.Table, maxDepth int) *Vnode {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxMountDepth
	}

	v, err := newVnode(node, nil, node.Ino(), node.Dev(), mounts, maxDepth)
	if err != nil {
		panic(fmt.Sprintf("vfs: root vnode: %v", err))
	}

	return v
}

// newVnode wraps node, taking over the caller's reference on it in every
// case. On success the new node holds its own reference on mountedAt.
func newVnode(node inode.Inode, mountedAt *Vnode, rootIno, rootDev uint64, mounts *mount.Table, maxDepth int) (*Vnode, error) {
	v := &Vnode{
		node:      node,
		mountedAt: mountedAt,
		rootIno:   rootIno,
		rootDev:   rootDev,
		mounts:    mounts,
		maxDepth:  maxDepth,
	}

	if err := v.checkChain(); err != nil {
		node.DecRef()

		return nil, err
	}

	if mountedAt != nil {
		mountedAt.IncRef()
	}
	v.refs.Store(1)

	return v, nil
}

// checkChain walks the mountedAt chain. A node seen twice is a cycle and
// panics; a chain longer than the mount depth limit fails with ELOOP.
func (v *Vnode) checkChain() error {
	seen := map[*Vnode]struct{}{v: {}}
	depth := 0

	for p := v.mountedAt; p != nil; p = p.mountedAt {
		if _, ok := seen[p]; ok {
			panic(fmt.Sprintf("vfs: cycle in mount chain at ino %d dev %d", p.Ino(), p.Dev()))
		}
		seen[p] = struct{}{}

		depth++
		if depth > v.maxDepth {
			return fmt.Errorf("(vfs-chain) %w", unix.ELOOP)
		}
	}

	return nil
}

// Ino returns the inode number of the wrapped object.
func (v *Vnode) Ino() uint64 {
	return v.node.Ino()
}

// Dev returns the device number of the wrapped object.
func (v *Vnode) Dev() uint64 {
	return v.node.Dev()
}

// Identity returns the (ino, dev) pair of the wrapped object.
func (v *Vnode) Identity() ioctx.Identity {
	return ioctx.Identity{Ino: v.Ino(), Dev: v.Dev()}
}

// Inode returns the wrapped object. No reference is taken.
func (v *Vnode) Inode() inode.Inode {
	return v.node
}

// MountedAt returns the node containing the mount point of this node's
// filesystem, or nil. No reference is taken.
func (v *Vnode) MountedAt() *Vnode {
	return v.mountedAt
}

// IsMountRoot reports whether the node is the root of its filesystem.
func (v *Vnode) IsMountRoot() bool {
	return v.Ino() == v.rootIno && v.Dev() == v.rootDev
}

// IncRef takes a reference.
func (v *Vnode) IncRef() {
	if v.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("vfs: reference taken on released vnode ino %d dev %d", v.Ino(), v.Dev()))
	}
}

// DecRef drops a reference. The last one releases the wrapped object and the
// node it was mounted under.
func (v *Vnode) DecRef() {
	switch n := v.refs.Add(-1); {
	case n < 0:
		panic(fmt.Sprintf("vfs: reference count of vnode ino %d dev %d below zero", v.Ino(), v.Dev()))
	case n == 0:
		v.node.DecRef()
		if v.mountedAt != nil {
			v.mountedAt.DecRef()
		}
	}
}

// Refs returns the current reference count.
func (v *Vnode) Refs() int64 {
	return v.refs.Load()
}

// Open looks up name and returns a new node for it, crossing into a mounted
// filesystem when the child is a mount point and back out of one on "..".
func (v *Vnode) Open(ctx *ioctx.Context, name string, flags int, mode uint32) (*Vnode, error) {
	if name == ".." {
		if v.Identity() == ctx.Root {
			v.IncRef()

			return v, nil
		}

		if v.IsMountRoot() && v.mountedAt != nil {
			v.mountedAt.IncRef()

			return v.mountedAt, nil
		}
	}

	child, err := inode.Open(ctx, v.node, name, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("(vfs-open) %w", err)
	}

	if root, ok := v.mounts.Lookup(child.Ino(), child.Dev()); ok {
		child.DecRef()

		n, err := newVnode(root, v, root.Ino(), root.Dev(), v.mounts, v.maxDepth)
		if err != nil {
			return nil, fmt.Errorf("(vfs-open) %w", err)
		}

		return n, nil
	}

	n, err := newVnode(child, v.mountedAt, v.rootIno, v.rootDev, v.mounts, v.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("(vfs-open) %w", err)
	}

	return n, nil
}

// Link creates name in this directory for the object of target.
func (v *Vnode) Link(ctx *ioctx.Context, name string, target *Vnode) error {
	if target.Dev() != v.Dev() {
		return fmt.Errorf("(vfs-link) %w", unix.EXDEV)
	}

	if err := inode.Link(ctx, v.node, name, target.node); err != nil {
		return fmt.Errorf("(vfs-link) %w", err)
	}

	return nil
}

// RenameHere moves oldname of the directory from to newname of this one.
func (v *Vnode) RenameHere(ctx *ioctx.Context, from *Vnode, oldname, newname string) error {
	if from.Dev() != v.Dev() {
		return fmt.Errorf("(vfs-rename) %w", unix.EXDEV)
	}

	if err := v.busy(ctx, newname); err != nil {
		return fmt.Errorf("(vfs-rename) %w", err)
	}

	if err := from.busy(ctx, oldname); err != nil {
		return fmt.Errorf("(vfs-rename) %w", err)
	}

	if err := inode.RenameHere(ctx, v.node, from.node, oldname, newname); err != nil {
		return fmt.Errorf("(vfs-rename) %w", err)
	}

	return nil
}

// Mount registers root over the entry name of this directory. Later lookups
// of name return root until it is unmounted. A bind mount is not notified
// when it is removed.
func (v *Vnode) Mount(ctx *ioctx.Context, name string, root inode.Inode, bind bool) error {
	target, err := inode.Open(ctx, v.node, name, 0, 0)
	if err != nil {
		return fmt.Errorf("(vfs-mount) %w", err)
	}
	defer target.DecRef()

	if root.Type() == unix.S_IFDIR && target.Type() != unix.S_IFDIR {
		return fmt.Errorf("(vfs-mount) %w", unix.ENOTDIR)
	}

	v.mounts.AddMount(target.Ino(), target.Dev(), root, bind)

	slog.Info("Mounted",
		"name", name,
		"ino", target.Ino(),
		"dev", target.Dev(),
		"root_dev", root.Dev(),
		"bind", bind,
	)

	return nil
}

// Unmount removes the most recent mount over the entry name of this
// directory, notifying the mounted root unless it was a bind mount.
func (v *Vnode) Unmount(ctx *ioctx.Context, name string) error {
	target, err := inode.Open(ctx, v.node, name, 0, 0)
	if err != nil {
		return fmt.Errorf("(vfs-unmount) %w", err)
	}
	defer target.DecRef()

	entry, ok := v.mounts.Remove(target.Ino(), target.Dev())
	if !ok {
		return fmt.Errorf("(vfs-unmount) %w", unix.EINVAL)
	}

	if !entry.Bind {
		inode.Unmounted(ctx, entry.Root)
	}
	entry.Root.DecRef()

	slog.Info("Unmounted",
		"name", name,
		"ino", entry.Ino,
		"dev", entry.Dev,
		"bind", entry.Bind,
	)

	return nil
}

// busy fails with EBUSY when the entry name is a mount point.
func (v *Vnode) busy(ctx *ioctx.Context, name string) error {
	if name == "." || name == ".." {
		return nil
	}

	target, err := inode.Open(ctx, v.node, name, 0, 0)
	if err != nil {
		return nil //nolint:nilerr
	}
	defer target.DecRef()

	root, ok := v.mounts.Lookup(target.Ino(), target.Dev())
	if !ok {
		return nil
	}
	root.DecRef()

	return unix.EBUSY
}
