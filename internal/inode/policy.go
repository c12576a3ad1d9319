package inode

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// family groups verbs that share one default error policy.
type family int

const (
	famStreamIO family = iota
	famPositionalIO
	famTruncate
	famSeek
	famSync
	famDirRead
	famLookup
	famNamespace
	famReadlink
	famTerminal
	famSocket
	famIoctl
)

//nolint:gochecknoglobals
var opFamilies = [numOps]family{
	OpRead:         famStreamIO,
	OpWrite:        famStreamIO,
	OpPRead:        famPositionalIO,
	OpPWrite:       famPositionalIO,
	OpTruncate:     famTruncate,
	OpLseek:        famSeek,
	OpSync:         famSync,
	OpReadDir:      famDirRead,
	OpOpen:         famLookup,
	OpMkdir:        famNamespace,
	OpLink:         famNamespace,
	OpUnlink:       famNamespace,
	OpRmdir:        famNamespace,
	OpRename:       famNamespace,
	OpSymlink:      famNamespace,
	OpReadlink:     famReadlink,
	OpTcgetwinsize: famTerminal,
	OpTcsetpgrp:    famTerminal,
	OpTcgetpgrp:    famTerminal,
	OpSettermmode:  famTerminal,
	OpGettermmode:  famTerminal,
	OpAccept:       famSocket,
	OpBind:         famSocket,
	OpConnect:      famSocket,
	OpListen:       famSocket,
	OpRecv:         famSocket,
	OpSend:         famSocket,
	OpGetSockOpt:   famSocket,
	OpSetSockOpt:   famSocket,
	OpShutdown:     famSocket,
	OpIoctl:        famIoctl,
}

// errnoOK marks a policy cell whose default outcome is success.
const errnoOK unix.Errno = 0

// defaultPolicy holds, per family and kind, the error returned when an object
// of that kind does not implement a verb of that family. A kind that owns a
// family answers with a state error (EBADF, EPERM, ENOENT, EOPNOTSUPP); every
// other kind answers with the type mismatch error of the family.
//
//nolint:gochecknoglobals
var defaultPolicy = map[family]map[Kind]unix.Errno{
	famStreamIO: {
		KindRegular:   unix.EBADF,
		KindDirectory: unix.EISDIR,
		KindStream:    unix.EBADF,
		KindTTY:       unix.EBADF,
		KindSocket:    unix.EBADF,
	},
	famPositionalIO: {
		KindRegular:   unix.EBADF,
		KindDirectory: unix.EISDIR,
		KindStream:    unix.ESPIPE,
		KindTTY:       unix.ESPIPE,
		KindSocket:    unix.ESPIPE,
	},
	famTruncate: {
		KindRegular:   unix.EBADF,
		KindDirectory: unix.EISDIR,
		KindStream:    unix.EINVAL,
		KindTTY:       unix.EINVAL,
		KindSocket:    unix.EINVAL,
	},
	famSeek: {
		KindRegular:   unix.EBADF,
		KindDirectory: unix.EBADF,
		KindStream:    unix.ESPIPE,
		KindTTY:       unix.ESPIPE,
		KindSocket:    unix.ESPIPE,
	},
	famSync: {
		KindRegular:   errnoOK,
		KindDirectory: errnoOK,
		KindStream:    unix.EINVAL,
		KindTTY:       unix.EINVAL,
		KindSocket:    unix.EINVAL,
	},
	famDirRead: {
		KindRegular:   unix.ENOTDIR,
		KindDirectory: unix.EBADF,
		KindStream:    unix.ENOTDIR,
		KindTTY:       unix.ENOTDIR,
		KindSocket:    unix.ENOTDIR,
	},
	famLookup: {
		KindRegular:   unix.ENOTDIR,
		KindDirectory: unix.ENOENT,
		KindStream:    unix.ENOTDIR,
		KindTTY:       unix.ENOTDIR,
		KindSocket:    unix.ENOTDIR,
	},
	famNamespace: {
		KindRegular:   unix.ENOTDIR,
		KindDirectory: unix.EPERM,
		KindStream:    unix.ENOTDIR,
		KindTTY:       unix.ENOTDIR,
		KindSocket:    unix.ENOTDIR,
	},
	famReadlink: {
		KindRegular:   unix.EINVAL,
		KindDirectory: unix.EINVAL,
		KindStream:    unix.EINVAL,
		KindTTY:       unix.EINVAL,
		KindSocket:    unix.EINVAL,
	},
	famTerminal: {
		KindRegular:   unix.ENOTTY,
		KindDirectory: unix.ENOTTY,
		KindStream:    unix.ENOTTY,
		KindTTY:       unix.EBADF,
		KindSocket:    unix.ENOTTY,
	},
	famSocket: {
		KindRegular:   unix.ENOTSOCK,
		KindDirectory: unix.ENOTSOCK,
		KindStream:    unix.ENOTSOCK,
		KindTTY:       unix.ENOTSOCK,
		KindSocket:    unix.EOPNOTSUPP,
	},
	famIoctl: {
		KindRegular:   unix.ENOTTY,
		KindDirectory: unix.ENOTTY,
		KindStream:    unix.ENOTTY,
		KindTTY:       unix.ENOTTY,
		KindSocket:    unix.ENOTTY,
	},
}

// Reject returns the default outcome of op on an object of the given kind
// that does not implement it. A nil return means the default is success.
func Reject(kind Kind, op Op) error {
	if op < 0 || op >= numOps {
		return fmt.Errorf("(inode-%s) %w", op, unix.ENOSYS)
	}

	errno, ok := defaultPolicy[opFamilies[op]][kind]
	if !ok {
		return fmt.Errorf("(inode-%s) %w", op, unix.EOPNOTSUPP)
	}

	if errno == errnoOK {
		return nil
	}

	return fmt.Errorf("(inode-%s) %w", op, errno)
}
