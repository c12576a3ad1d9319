// Package ioctx carries the caller-side context of every kernel I/O operation:
// credentials, the namespace root, and the primitives used to move bytes
// between kernel memory and the caller's memory.
package ioctx

import (
	"context"
)

// Credentials are the caller identities used for ownership bookkeeping.
type Credentials struct {
	UID  uint32
	GID  uint32
	EUID uint32
	EGID uint32
}

// Root returns the superuser [Credentials].
func Root() Credentials {
	return Credentials{}
}

// Identity names an object by inode and device number.
type Identity struct {
	Ino uint64
	Dev uint64
}

// Copier moves bytes across the kernel/caller boundary. A copy that fails
// partway returns the number of bytes moved together with the error.
type Copier interface {
	CopyToDest(dst uintptr, src []byte) (int, error)
	CopyFromSrc(dst []byte, src uintptr) (int, error)
}

// Context is the I/O context of a single kernel operation.
type Context struct {
	context.Context

	Creds Credentials
	Root  Identity

	copier Copier
}

// New returns a pointer to a new [Context].
func New(ctx context.Context, creds Credentials, root Identity, copier Copier) *Context {
	return &Context{
		Context: ctx,
		Creds:   creds,
		Root:    root,
		copier:  copier,
	}
}

// WithRoot returns a copy of the [Context] with a different namespace root.
func (c *Context) WithRoot(root Identity) *Context {
	cp := *c
	cp.Root = root

	return &cp
}

// WithCopier returns a copy of the [Context] moving bytes through copier.
func (c *Context) WithCopier(copier Copier) *Context {
	cp := *c
	cp.copier = copier

	return &cp
}

// CopyToDest copies src into the caller's memory at dst.
func (c *Context) CopyToDest(dst uintptr, src []byte) (int, error) {
	return c.copier.CopyToDest(dst, src)
}

// CopyFromSrc copies the caller's memory at src into dst.
func (c *Context) CopyFromSrc(dst []byte, src uintptr) (int, error) {
	return c.copier.CopyFromSrc(dst, src)
}
