package inode

import (
	"github.com/zhoujie-jay/kcore/internal/ioctx"
)

// Supports reports whether n implements the capability trait of op.
func Supports(n Inode, op Op) bool {
	var ok bool

	switch op {
	case OpRead:
		_, ok = n.(Reader)
	case OpWrite:
		_, ok = n.(Writer)
	case OpPRead:
		_, ok = n.(PReader)
	case OpPWrite:
		_, ok = n.(PWriter)
	case OpTruncate:
		_, ok = n.(Truncater)
	case OpLseek:
		_, ok = n.(Seeker)
	case OpSync:
		_, ok = n.(Syncer)
	case OpReadDir:
		_, ok = n.(DirReader)
	case OpOpen:
		_, ok = n.(Opener)
	case OpMkdir:
		_, ok = n.(Mkdirer)
	case OpLink:
		_, ok = n.(Linker)
	case OpUnlink:
		_, ok = n.(Unlinker)
	case OpRmdir:
		_, ok = n.(Rmdirer)
	case OpRename:
		_, ok = n.(Renamer)
	case OpSymlink:
		_, ok = n.(Symlinker)
	case OpReadlink:
		_, ok = n.(Readlinker)
	case OpTcgetwinsize:
		_, ok = n.(WinsizeGetter)
	case OpTcsetpgrp:
		_, ok = n.(PgrpSetter)
	case OpTcgetpgrp:
		_, ok = n.(PgrpGetter)
	case OpSettermmode:
		_, ok = n.(TermModeSetter)
	case OpGettermmode:
		_, ok = n.(TermModeGetter)
	case OpAccept:
		_, ok = n.(SocketAcceptor)
	case OpBind:
		_, ok = n.(SocketBinder)
	case OpConnect:
		_, ok = n.(SocketConnector)
	case OpListen:
		_, ok = n.(SocketListener)
	case OpRecv:
		_, ok = n.(SocketReceiver)
	case OpSend:
		_, ok = n.(SocketSender)
	case OpGetSockOpt:
		_, ok = n.(SockOptGetter)
	case OpSetSockOpt:
		_, ok = n.(SockOptSetter)
	case OpShutdown:
		_, ok = n.(SocketShutdowner)
	case OpIoctl:
		_, ok = n.(Ioctler)
	}

	return ok
}

func Read(ctx *ioctx.Context, n Inode, dst uintptr, count int) (int, error) {
	if r, ok := n.(Reader); ok {
		return r.Read(ctx, dst, count)
	}

	return 0, Reject(n.Kind(), OpRead)
}

func Write(ctx *ioctx.Context, n Inode, src uintptr, count int) (int, error) {
	if w, ok := n.(Writer); ok {
		return w.Write(ctx, src, count)
	}

	return 0, Reject(n.Kind(), OpWrite)
}

func PRead(ctx *ioctx.Context, n Inode, dst uintptr, count int, off int64) (int, error) {
	if r, ok := n.(PReader); ok {
		return r.PRead(ctx, dst, count, off)
	}

	return 0, Reject(n.Kind(), OpPRead)
}

func PWrite(ctx *ioctx.Context, n Inode, src uintptr, count int, off int64) (int, error) {
	if w, ok := n.(PWriter); ok {
		return w.PWrite(ctx, src, count, off)
	}

	return 0, Reject(n.Kind(), OpPWrite)
}

func Truncate(ctx *ioctx.Context, n Inode, length int64) error {
	if t, ok := n.(Truncater); ok {
		return t.Truncate(ctx, length)
	}

	return Reject(n.Kind(), OpTruncate)
}

func Lseek(ctx *ioctx.Context, n Inode, off int64, whence int) (int64, error) {
	if s, ok := n.(Seeker); ok {
		return s.Lseek(ctx, off, whence)
	}

	return 0, Reject(n.Kind(), OpLseek)
}

// Sync succeeds on regular files and directories without a [Syncer].
func Sync(ctx *ioctx.Context, n Inode) error {
	if s, ok := n.(Syncer); ok {
		return s.Sync(ctx)
	}

	return Reject(n.Kind(), OpSync)
}

func ReadDir(ctx *ioctx.Context, n Inode) ([]Dirent, error) {
	if d, ok := n.(DirReader); ok {
		return d.ReadDir(ctx)
	}

	return nil, Reject(n.Kind(), OpReadDir)
}

func Open(ctx *ioctx.Context, n Inode, name string, flags int, mode uint32) (Inode, error) {
	if o, ok := n.(Opener); ok {
		return o.Open(ctx, name, flags, mode)
	}

	return nil, Reject(n.Kind(), OpOpen)
}

func Mkdir(ctx *ioctx.Context, n Inode, name string, mode uint32) error {
	if m, ok := n.(Mkdirer); ok {
		return m.Mkdir(ctx, name, mode)
	}

	return Reject(n.Kind(), OpMkdir)
}

func Link(ctx *ioctx.Context, n Inode, name string, node Inode) error {
	if l, ok := n.(Linker); ok {
		return l.Link(ctx, name, node)
	}

	return Reject(n.Kind(), OpLink)
}

func Unlink(ctx *ioctx.Context, n Inode, name string) error {
	if u, ok := n.(Unlinker); ok {
		return u.Unlink(ctx, name)
	}

	return Reject(n.Kind(), OpUnlink)
}

func Rmdir(ctx *ioctx.Context, n Inode, name string) error {
	if r, ok := n.(Rmdirer); ok {
		return r.Rmdir(ctx, name)
	}

	return Reject(n.Kind(), OpRmdir)
}

func RenameHere(ctx *ioctx.Context, n Inode, from Inode, oldname, newname string) error {
	if r, ok := n.(Renamer); ok {
		return r.RenameHere(ctx, from, oldname, newname)
	}

	return Reject(n.Kind(), OpRename)
}

func Symlink(ctx *ioctx.Context, n Inode, target, name string) error {
	if s, ok := n.(Symlinker); ok {
		return s.Symlink(ctx, target, name)
	}

	return Reject(n.Kind(), OpSymlink)
}

func Readlink(ctx *ioctx.Context, n Inode, dst uintptr, count int) (int, error) {
	if r, ok := n.(Readlinker); ok {
		return r.Readlink(ctx, dst, count)
	}

	return 0, Reject(n.Kind(), OpReadlink)
}

func Tcgetwinsize(ctx *ioctx.Context, n Inode, dst uintptr) error {
	if t, ok := n.(WinsizeGetter); ok {
		return t.Tcgetwinsize(ctx, dst)
	}

	return Reject(n.Kind(), OpTcgetwinsize)
}

func Tcsetpgrp(ctx *ioctx.Context, n Inode, pgid int) error {
	if t, ok := n.(PgrpSetter); ok {
		return t.Tcsetpgrp(ctx, pgid)
	}

	return Reject(n.Kind(), OpTcsetpgrp)
}

func Tcgetpgrp(ctx *ioctx.Context, n Inode) (int, error) {
	if t, ok := n.(PgrpGetter); ok {
		return t.Tcgetpgrp(ctx)
	}

	return 0, Reject(n.Kind(), OpTcgetpgrp)
}

func Settermmode(ctx *ioctx.Context, n Inode, mode int) error {
	if t, ok := n.(TermModeSetter); ok {
		return t.Settermmode(ctx, mode)
	}

	return Reject(n.Kind(), OpSettermmode)
}

func Gettermmode(ctx *ioctx.Context, n Inode) (int, error) {
	if t, ok := n.(TermModeGetter); ok {
		return t.Gettermmode(ctx)
	}

	return 0, Reject(n.Kind(), OpGettermmode)
}

func Accept(ctx *ioctx.Context, n Inode, flags int) (Inode, error) {
	if s, ok := n.(SocketAcceptor); ok {
		return s.Accept(ctx, flags)
	}

	return nil, Reject(n.Kind(), OpAccept)
}

func Bind(ctx *ioctx.Context, n Inode, addr uintptr, addrlen int) error {
	if s, ok := n.(SocketBinder); ok {
		return s.Bind(ctx, addr, addrlen)
	}

	return Reject(n.Kind(), OpBind)
}

func Connect(ctx *ioctx.Context, n Inode, addr uintptr, addrlen int) error {
	if s, ok := n.(SocketConnector); ok {
		return s.Connect(ctx, addr, addrlen)
	}

	return Reject(n.Kind(), OpConnect)
}

func Listen(ctx *ioctx.Context, n Inode, backlog int) error {
	if s, ok := n.(SocketListener); ok {
		return s.Listen(ctx, backlog)
	}

	return Reject(n.Kind(), OpListen)
}

func Recv(ctx *ioctx.Context, n Inode, dst uintptr, count int, flags int) (int, error) {
	if s, ok := n.(SocketReceiver); ok {
		return s.Recv(ctx, dst, count, flags)
	}

	return 0, Reject(n.Kind(), OpRecv)
}

func Send(ctx *ioctx.Context, n Inode, src uintptr, count int, flags int) (int, error) {
	if s, ok := n.(SocketSender); ok {
		return s.Send(ctx, src, count, flags)
	}

	return 0, Reject(n.Kind(), OpSend)
}

func GetSockOpt(ctx *ioctx.Context, n Inode, level, name int, dst uintptr, count int) (int, error) {
	if s, ok := n.(SockOptGetter); ok {
		return s.GetSockOpt(ctx, level, name, dst, count)
	}

	return 0, Reject(n.Kind(), OpGetSockOpt)
}

func SetSockOpt(ctx *ioctx.Context, n Inode, level, name int, src uintptr, count int) error {
	if s, ok := n.(SockOptSetter); ok {
		return s.SetSockOpt(ctx, level, name, src, count)
	}

	return Reject(n.Kind(), OpSetSockOpt)
}

func Shutdown(ctx *ioctx.Context, n Inode, how int) error {
	if s, ok := n.(SocketShutdowner); ok {
		return s.Shutdown(ctx, how)
	}

	return Reject(n.Kind(), OpShutdown)
}

func Ioctl(ctx *ioctx.Context, n Inode, cmd int, arg uintptr) (int, error) {
	if i, ok := n.(Ioctler); ok {
		return i.Ioctl(ctx, cmd, arg)
	}

	return 0, Reject(n.Kind(), OpIoctl)
}

// Unmounted notifies n that a filesystem mount of it was removed, if n cares.
func Unmounted(ctx *ioctx.Context, n Inode) {
	if u, ok := n.(Unmountable); ok {
		u.Unmounted(ctx)
	}
}
