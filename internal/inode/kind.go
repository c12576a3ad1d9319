package inode

// Kind is the behavior tag of an object. It only decides which default error
// an unsupported operation returns.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindStream
	KindTTY
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindStream:
		return "stream"
	case KindTTY:
		return "tty"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Op names a single verb of the object model.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpPRead
	OpPWrite
	OpTruncate
	OpLseek
	OpSync
	OpReadDir
	OpOpen
	OpMkdir
	OpLink
	OpUnlink
	OpRmdir
	OpRename
	OpSymlink
	OpReadlink
	OpTcgetwinsize
	OpTcsetpgrp
	OpTcgetpgrp
	OpSettermmode
	OpGettermmode
	OpAccept
	OpBind
	OpConnect
	OpListen
	OpRecv
	OpSend
	OpGetSockOpt
	OpSetSockOpt
	OpShutdown
	OpIoctl

	numOps
)

//nolint:gochecknoglobals
var opNames = [numOps]string{
	OpRead:         "read",
	OpWrite:        "write",
	OpPRead:        "pread",
	OpPWrite:       "pwrite",
	OpTruncate:     "truncate",
	OpLseek:        "lseek",
	OpSync:         "sync",
	OpReadDir:      "readdir",
	OpOpen:         "open",
	OpMkdir:        "mkdir",
	OpLink:         "link",
	OpUnlink:       "unlink",
	OpRmdir:        "rmdir",
	OpRename:       "rename",
	OpSymlink:      "symlink",
	OpReadlink:     "readlink",
	OpTcgetwinsize: "tcgetwinsize",
	OpTcsetpgrp:    "tcsetpgrp",
	OpTcgetpgrp:    "tcgetpgrp",
	OpSettermmode:  "settermmode",
	OpGettermmode:  "gettermmode",
	OpAccept:       "accept",
	OpBind:         "bind",
	OpConnect:      "connect",
	OpListen:       "listen",
	OpRecv:         "recv",
	OpSend:         "send",
	OpGetSockOpt:   "getsockopt",
	OpSetSockOpt:   "setsockopt",
	OpShutdown:     "shutdown",
	OpIoctl:        "ioctl",
}

func (op Op) String() string {
	if op < 0 || op >= numOps {
		return "unknown"
	}

	return opNames[op]
}
