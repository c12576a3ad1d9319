// Package kerr classifies kernel errors into the coarse classes callers act
// upon. All kernel errors are [unix.Errno] values wrapped with context.
package kerr

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Class is the coarse category of a kernel error.
type Class int

const (
	// None is the class of a nil error.
	None Class = iota

	// TypeMismatch means the operation never applies to this kind of object.
	TypeMismatch

	// BadHandle means a stale or empty handle, or an object of the right kind
	// in the wrong state.
	BadHandle

	// Argument means malformed flags, indices or offsets.
	Argument

	// Exhausted means a table or pool could not grow.
	Exhausted

	// CrossDevice means an operation spanned two devices.
	CrossDevice

	// Collision means a name or registration already exists.
	Collision

	// Fault means a copy to or from the caller's memory failed.
	Fault

	// NotFound means a name did not resolve.
	NotFound

	// Other is any error outside the taxonomy.
	Other
)

//nolint:gochecknoglobals
var classNames = map[Class]string{
	None:         "none",
	TypeMismatch: "type-mismatch",
	BadHandle:    "bad-handle",
	Argument:     "argument",
	Exhausted:    "exhausted",
	CrossDevice:  "cross-device",
	Collision:    "collision",
	Fault:        "fault",
	NotFound:     "not-found",
	Other:        "other",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}

	return "unknown"
}

// Classify returns the [Class] of an error, unwrapping it to the underlying
// [unix.Errno] where there is one.
func Classify(err error) Class {
	if err == nil {
		return None
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		return Other
	}

	switch errno { //nolint:exhaustive
	case unix.ENOTDIR, unix.ENOTTY, unix.ENOTSOCK, unix.EOPNOTSUPP,
		unix.EISDIR, unix.ESPIPE, unix.ENOSYS:
		return TypeMismatch
	case unix.EBADF:
		return BadHandle
	case unix.EINVAL, unix.ELOOP, unix.ENAMETOOLONG:
		return Argument
	case unix.EMFILE, unix.ENFILE, unix.ENOMEM, unix.ENOSPC, unix.EFBIG, unix.EOVERFLOW:
		return Exhausted
	case unix.EXDEV:
		return CrossDevice
	case unix.EEXIST, unix.EBUSY, unix.EADDRINUSE, unix.ENOTEMPTY:
		return Collision
	case unix.EFAULT:
		return Fault
	case unix.ENOENT:
		return NotFound
	default:
		return Other
	}
}

// Is reports whether err falls into the given class.
func Is(err error, class Class) bool {
	return Classify(err) == class
}
