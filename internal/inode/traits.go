package inode

import (
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// Inode is the set of verbs every object implements. Everything else is an
// optional capability trait, see the interfaces below.
type Inode interface {
	Ino() uint64
	Dev() uint64
	Kind() Kind
	Type() uint32

	Stat(ctx *ioctx.Context) (Stat, error)
	Chmod(ctx *ioctx.Context, mode uint32) error
	Chown(ctx *ioctx.Context, uid, gid uint32) error
	Utimens(ctx *ioctx.Context, atime, mtime unix.Timespec) error

	Linked()
	Unlinked()
	Nlink() uint32

	IncRef()
	DecRef()
	Refs() int64
}

// Dirent is a single directory entry.
type Dirent struct {
	Name string
	Ino  uint64
	Type uint32
}

type Reader interface {
	Read(ctx *ioctx.Context, dst uintptr, count int) (int, error)
}

type Writer interface {
	Write(ctx *ioctx.Context, src uintptr, count int) (int, error)
}

type PReader interface {
	PRead(ctx *ioctx.Context, dst uintptr, count int, off int64) (int, error)
}

type PWriter interface {
	PWrite(ctx *ioctx.Context, src uintptr, count int, off int64) (int, error)
}

type Truncater interface {
	Truncate(ctx *ioctx.Context, length int64) error
}

// Seeker is implemented by objects that keep their own position instead of
// relying on the descriptor cursor.
type Seeker interface {
	Lseek(ctx *ioctx.Context, off int64, whence int) (int64, error)
}

type Syncer interface {
	Sync(ctx *ioctx.Context) error
}

type DirReader interface {
	ReadDir(ctx *ioctx.Context) ([]Dirent, error)
}

// Opener looks up name in a directory, creating it when flags ask for it.
// The returned object carries a reference owned by the caller.
type Opener interface {
	Open(ctx *ioctx.Context, name string, flags int, mode uint32) (Inode, error)
}

type Mkdirer interface {
	Mkdir(ctx *ioctx.Context, name string, mode uint32) error
}

type Linker interface {
	Link(ctx *ioctx.Context, name string, node Inode) error
}

type Unlinker interface {
	Unlink(ctx *ioctx.Context, name string) error
}

type Rmdirer interface {
	Rmdir(ctx *ioctx.Context, name string) error
}

// Renamer moves oldname of directory from to newname in the receiver.
type Renamer interface {
	RenameHere(ctx *ioctx.Context, from Inode, oldname, newname string) error
}

type Symlinker interface {
	Symlink(ctx *ioctx.Context, target, name string) error
}

type Readlinker interface {
	Readlink(ctx *ioctx.Context, dst uintptr, count int) (int, error)
}

// Terminal traits.
type (
	WinsizeGetter interface {
		Tcgetwinsize(ctx *ioctx.Context, dst uintptr) error
	}
	PgrpSetter interface {
		Tcsetpgrp(ctx *ioctx.Context, pgid int) error
	}
	PgrpGetter interface {
		Tcgetpgrp(ctx *ioctx.Context) (int, error)
	}
	TermModeSetter interface {
		Settermmode(ctx *ioctx.Context, mode int) error
	}
	TermModeGetter interface {
		Gettermmode(ctx *ioctx.Context) (int, error)
	}
)

// Socket traits.
type (
	SocketAcceptor interface {
		Accept(ctx *ioctx.Context, flags int) (Inode, error)
	}
	SocketBinder interface {
		Bind(ctx *ioctx.Context, addr uintptr, addrlen int) error
	}
	SocketConnector interface {
		Connect(ctx *ioctx.Context, addr uintptr, addrlen int) error
	}
	SocketListener interface {
		Listen(ctx *ioctx.Context, backlog int) error
	}
	SocketReceiver interface {
		Recv(ctx *ioctx.Context, dst uintptr, count int, flags int) (int, error)
	}
	SocketSender interface {
		Send(ctx *ioctx.Context, src uintptr, count int, flags int) (int, error)
	}
	SockOptGetter interface {
		GetSockOpt(ctx *ioctx.Context, level, name int, dst uintptr, count int) (int, error)
	}
	SockOptSetter interface {
		SetSockOpt(ctx *ioctx.Context, level, name int, src uintptr, count int) error
	}
	SocketShutdowner interface {
		Shutdown(ctx *ioctx.Context, how int) error
	}
)

type Ioctler interface {
	Ioctl(ctx *ioctx.Context, cmd int, arg uintptr) (int, error)
}

// Unmountable is notified when a filesystem mount of the object is removed.
// Bind mounts do not notify.
type Unmountable interface {
	Unmounted(ctx *ioctx.Context)
}
