package kernel

import (
	"fmt"
	"strings"

	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"github.com/zhoujie-jay/kcore/internal/vfs"
	"golang.org/x/sys/unix"
)

// MaxPathLen is the longest accepted path.
const MaxPathLen = 4096

// splitPath separates the last component of path from its directory. A path
// naming the root itself yields ("/", ".").
func splitPath(path string) (string, string) {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/", "."
	}

	i := strings.LastIndexByte(trimmed, '/')

	switch {
	case i < 0:
		return ".", trimmed
	case i == 0:
		return "/", trimmed[1:]
	default:
		return trimmed[:i], trimmed[i+1:]
	}
}

// Resolve walks path component by component from the root or the working
// directory of the process and returns the final node with a new reference.
// Symbolic links are not followed.
func (p *Process) Resolve(ctx *ioctx.Context, path string) (*vfs.Vnode, error) {
	if path == "" {
		return nil, fmt.Errorf("(kernel-resolve) %w", unix.ENOENT)
	}

	if len(path) > MaxPathLen {
		return nil, fmt.Errorf("(kernel-resolve) %w", unix.ENAMETOOLONG)
	}

	root, cwd := p.dirs()
	defer root.DecRef()
	defer cwd.DecRef()

	cur := cwd
	if path[0] == '/' {
		cur = root
	}
	cur.IncRef()

	for _, name := range strings.Split(path, "/") {
		if name == "" || name == "." {
			continue
		}

		next, err := cur.Open(ctx, name, 0, 0)
		cur.DecRef()

		if err != nil {
			return nil, fmt.Errorf("(kernel-resolve) %s: %w", path, err)
		}
		cur = next
	}

	return cur, nil
}

// resolveParent resolves the directory of path and returns it together with
// the last component.
func (p *Process) resolveParent(ctx *ioctx.Context, path string) (*vfs.Vnode, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("(kernel-resolve) %w", unix.ENOENT)
	}

	dir, name := splitPath(path)

	v, err := p.Resolve(ctx, dir)
	if err != nil {
		return nil, "", err
	}

	return v, name, nil
}
