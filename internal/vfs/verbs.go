package vfs

import (
	"fmt"

	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// Verbs forwarded to the wrapped object. Unsupported verbs fail with the
// default error of the object's kind.

func (v *Vnode) Stat(ctx *ioctx.Context) (inode.Stat, error) {
	return v.node.Stat(ctx)
}

func (v *Vnode) Chmod(ctx *ioctx.Context, mode uint32) error {
	return v.node.Chmod(ctx, mode)
}

func (v *Vnode) Chown(ctx *ioctx.Context, uid, gid uint32) error {
	return v.node.Chown(ctx, uid, gid)
}

func (v *Vnode) Utimens(ctx *ioctx.Context, atime, mtime unix.Timespec) error {
	return v.node.Utimens(ctx, atime, mtime)
}

func (v *Vnode) Read(ctx *ioctx.Context, dst uintptr, count int) (int, error) {
	return inode.Read(ctx, v.node, dst, count)
}

func (v *Vnode) Write(ctx *ioctx.Context, src uintptr, count int) (int, error) {
	return inode.Write(ctx, v.node, src, count)
}

func (v *Vnode) PRead(ctx *ioctx.Context, dst uintptr, count int, off int64) (int, error) {
	return inode.PRead(ctx, v.node, dst, count, off)
}

func (v *Vnode) PWrite(ctx *ioctx.Context, src uintptr, count int, off int64) (int, error) {
	return inode.PWrite(ctx, v.node, src, count, off)
}

func (v *Vnode) Truncate(ctx *ioctx.Context, length int64) error {
	return inode.Truncate(ctx, v.node, length)
}

func (v *Vnode) Lseek(ctx *ioctx.Context, off int64, whence int) (int64, error) {
	return inode.Lseek(ctx, v.node, off, whence)
}

func (v *Vnode) Sync(ctx *ioctx.Context) error {
	return inode.Sync(ctx, v.node)
}

func (v *Vnode) ReadDir(ctx *ioctx.Context) ([]inode.Dirent, error) {
	return inode.ReadDir(ctx, v.node)
}

func (v *Vnode) Mkdir(ctx *ioctx.Context, name string, mode uint32) error {
	return inode.Mkdir(ctx, v.node, name, mode)
}

func (v *Vnode) Symlink(ctx *ioctx.Context, target, name string) error {
	return inode.Symlink(ctx, v.node, target, name)
}

func (v *Vnode) Readlink(ctx *ioctx.Context, dst uintptr, count int) (int, error) {
	return inode.Readlink(ctx, v.node, dst, count)
}

// Unlink removes name, failing with EBUSY on a mount point.
func (v *Vnode) Unlink(ctx *ioctx.Context, name string) error {
	if err := v.busy(ctx, name); err != nil {
		return fmt.Errorf("(vfs-unlink) %w", err)
	}

	return inode.Unlink(ctx, v.node, name)
}

// Rmdir removes the directory name, failing with EBUSY on a mount point.
func (v *Vnode) Rmdir(ctx *ioctx.Context, name string) error {
	if err := v.busy(ctx, name); err != nil {
		return fmt.Errorf("(vfs-rmdir) %w", err)
	}

	return inode.Rmdir(ctx, v.node, name)
}

func (v *Vnode) Tcgetwinsize(ctx *ioctx.Context, dst uintptr) error {
	return inode.Tcgetwinsize(ctx, v.node, dst)
}

func (v *Vnode) Tcsetpgrp(ctx *ioctx.Context, pgid int) error {
	return inode.Tcsetpgrp(ctx, v.node, pgid)
}

func (v *Vnode) Tcgetpgrp(ctx *ioctx.Context) (int, error) {
	return inode.Tcgetpgrp(ctx, v.node)
}

func (v *Vnode) Settermmode(ctx *ioctx.Context, mode int) error {
	return inode.Settermmode(ctx, v.node, mode)
}

func (v *Vnode) Gettermmode(ctx *ioctx.Context) (int, error) {
	return inode.Gettermmode(ctx, v.node)
}

func (v *Vnode) Ioctl(ctx *ioctx.Context, cmd int, arg uintptr) (int, error) {
	return inode.Ioctl(ctx, v.node, cmd, arg)
}

// Accept returns a node for the accepted connection in the same mount
// context as the listener.
func (v *Vnode) Accept(ctx *ioctx.Context, flags int) (*Vnode, error) {
	conn, err := inode.Accept(ctx, v.node, flags)
	if err != nil {
		return nil, fmt.Errorf("(vfs-accept) %w", err)
	}

	n, err := newVnode(conn, v.mountedAt, v.rootIno, v.rootDev, v.mounts, v.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("(vfs-accept) %w", err)
	}

	return n, nil
}

func (v *Vnode) Bind(ctx *ioctx.Context, addr uintptr, addrlen int) error {
	return inode.Bind(ctx, v.node, addr, addrlen)
}

func (v *Vnode) Connect(ctx *ioctx.Context, addr uintptr, addrlen int) error {
	return inode.Connect(ctx, v.node, addr, addrlen)
}

func (v *Vnode) Listen(ctx *ioctx.Context, backlog int) error {
	return inode.Listen(ctx, v.node, backlog)
}

func (v *Vnode) Recv(ctx *ioctx.Context, dst uintptr, count int, flags int) (int, error) {
	return inode.Recv(ctx, v.node, dst, count, flags)
}

func (v *Vnode) Send(ctx *ioctx.Context, src uintptr, count int, flags int) (int, error) {
	return inode.Send(ctx, v.node, src, count, flags)
}

func (v *Vnode) GetSockOpt(ctx *ioctx.Context, level, name int, dst uintptr, count int) (int, error) {
	return inode.GetSockOpt(ctx, v.node, level, name, dst, count)
}

func (v *Vnode) SetSockOpt(ctx *ioctx.Context, level, name int, src uintptr, count int) error {
	return inode.SetSockOpt(ctx, v.node, level, name, src, count)
}

func (v *Vnode) Shutdown(ctx *ioctx.Context, how int) error {
	return inode.Shutdown(ctx, v.node, how)
}
