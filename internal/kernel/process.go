package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhoujie-jay/kcore/internal/dtable"
	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"github.com/zhoujie-jay/kcore/internal/vfs"
	"golang.org/x/sys/unix"
)

// openFlags are the open flags kept by the descriptor after open.
const openFlags = unix.O_ACCMODE | unix.O_APPEND | unix.O_NONBLOCK

// Process is the per-process state of the core: credentials, namespace root,
// working directory and descriptor table.
type Process struct {
	kernel *Kernel
	pid    int64
	creds  ioctx.Credentials
	files  *dtable.Table

	mu     sync.Mutex
	root   *vfs.Vnode
	cwd    *vfs.Vnode
	exited bool
}

// NewProcess returns a pointer to a new [Process] rooted at the namespace
// root, with an empty descriptor table.
func (k *Kernel) NewProcess(creds ioctx.Credentials) *Process {
	p := &Process{
		kernel: k,
		pid:    k.lastPID.Add(1),
		creds:  creds,
		files:  dtable.New(k.cfg.DescriptorLimit),
		root:   k.Root(),
		cwd:    k.Root(),
	}
	k.processes.Add(1)

	slog.Debug("Process created",
		"pid", p.pid,
		"uid", creds.UID,
	)

	return p
}

// PID returns the process identifier.
func (p *Process) PID() int64 {
	return p.pid
}

// Files returns the descriptor table.
func (p *Process) Files() *dtable.Table {
	return p.files
}

// Context returns the I/O context of an operation of the process, moving
// bytes through copier.
func (p *Process) Context(ctx context.Context, copier ioctx.Copier) *ioctx.Context {
	p.mu.Lock()
	root := p.root.Identity()
	p.mu.Unlock()

	return ioctx.New(ctx, p.creds, root, copier)
}

// dirs returns the root and working directory with a new reference each.
func (p *Process) dirs() (*vfs.Vnode, *vfs.Vnode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.root.IncRef()
	p.cwd.IncRef()

	return p.root, p.cwd
}

// descriptor returns the descriptor at fd with a new reference.
func (p *Process) descriptor(fd int) (*vfs.Descriptor, error) {
	desc, err := p.files.Get(fd)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	d, ok := desc.(*vfs.Descriptor)
	if !ok {
		desc.DecRef()

		return nil, unix.EBADF
	}

	return d, nil
}

// Open opens path and installs a descriptor for it at the lowest free index.
func (p *Process) Open(ctx *ioctx.Context, path string, flags int, mode uint32) (int, error) {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return -1, fmt.Errorf("(kernel-open) %w", err)
	}

	v, err := dir.Open(ctx, name, flags, mode)
	dir.DecRef()

	if err != nil {
		return -1, fmt.Errorf("(kernel-open) %w", err)
	}

	d, err := vfs.NewDescriptor(v, flags&openFlags)
	if err != nil {
		v.DecRef()

		return -1, fmt.Errorf("(kernel-open) %w", err)
	}
	defer d.DecRef()

	var fdFlags int
	if flags&unix.O_CLOEXEC != 0 {
		fdFlags = dtable.FlagCloseOnExec
	}

	fd, err := p.files.Allocate(d, fdFlags, 0)
	if err != nil {
		return -1, fmt.Errorf("(kernel-open) %w", err)
	}

	return fd, nil
}

// Close frees fd.
func (p *Process) Close(fd int) error {
	if err := p.files.Free(fd); err != nil {
		return fmt.Errorf("(kernel-close) %w", err)
	}

	return nil
}

// Dup installs the descriptor of fd at the lowest free index.
func (p *Process) Dup(fd int) (int, error) {
	nfd, err := p.files.AllocateDup(fd, 0, 0)
	if err != nil {
		return -1, fmt.Errorf("(kernel-dup) %w", err)
	}

	return nfd, nil
}

// Dup2 installs the descriptor of from at to, closing what was there. With
// from equal to to it only checks that from is open.
func (p *Process) Dup2(from, to int) (int, error) {
	if from == to {
		d, err := p.descriptor(from)
		if err != nil {
			return -1, fmt.Errorf("(kernel-dup2) %w", err)
		}
		d.DecRef()

		return to, nil
	}

	fd, err := p.files.Copy(from, to, 0)
	if err != nil {
		return -1, fmt.Errorf("(kernel-dup2) %w", err)
	}

	return fd, nil
}

// Dup3 is [Process.Dup2] that accepts [unix.O_CLOEXEC] and rejects equal
// descriptors.
func (p *Process) Dup3(from, to int, flags int) (int, error) {
	if flags&^unix.O_CLOEXEC != 0 {
		return -1, fmt.Errorf("(kernel-dup3) %w", unix.EINVAL)
	}

	var fdFlags int
	if flags&unix.O_CLOEXEC != 0 {
		fdFlags = dtable.FlagCloseOnExec
	}

	fd, err := p.files.Copy(from, to, fdFlags)
	if err != nil {
		return -1, fmt.Errorf("(kernel-dup3) %w", err)
	}

	return fd, nil
}

// GetFDFlags returns the descriptor table flags of fd.
func (p *Process) GetFDFlags(fd int) (int, error) {
	flags, err := p.files.GetFlags(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-getfd) %w", err)
	}

	return flags, nil
}

// SetFDFlags replaces the descriptor table flags of fd.
func (p *Process) SetFDFlags(fd int, flags int) error {
	if err := p.files.SetFlags(fd, flags); err != nil {
		return fmt.Errorf("(kernel-setfd) %w", err)
	}

	return nil
}

// GetStatusFlags returns the access mode and status flags of fd.
func (p *Process) GetStatusFlags(fd int) (int, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-getfl) %w", err)
	}
	defer d.DecRef()

	return d.GetFlags(), nil
}

// SetStatusFlags changes the status flags of fd.
func (p *Process) SetStatusFlags(fd int, flags int) error {
	d, err := p.descriptor(fd)
	if err != nil {
		return fmt.Errorf("(kernel-setfl) %w", err)
	}
	defer d.DecRef()

	d.SetFlags(flags)

	return nil
}

// Read reads from fd at its cursor.
func (p *Process) Read(ctx *ioctx.Context, fd int, dst uintptr, count int) (int, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-read) %w", err)
	}
	defer d.DecRef()

	n, err := d.Read(ctx, dst, count)
	if err != nil {
		return n, fmt.Errorf("(kernel-read) %w", err)
	}

	return n, nil
}

// Write writes to fd at its cursor.
func (p *Process) Write(ctx *ioctx.Context, fd int, src uintptr, count int) (int, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-write) %w", err)
	}
	defer d.DecRef()

	n, err := d.Write(ctx, src, count)
	if err != nil {
		return n, fmt.Errorf("(kernel-write) %w", err)
	}

	return n, nil
}

// PRead reads from fd at off.
func (p *Process) PRead(ctx *ioctx.Context, fd int, dst uintptr, count int, off int64) (int, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-pread) %w", err)
	}
	defer d.DecRef()

	n, err := d.PRead(ctx, dst, count, off)
	if err != nil {
		return n, fmt.Errorf("(kernel-pread) %w", err)
	}

	return n, nil
}

// PWrite writes to fd at off.
func (p *Process) PWrite(ctx *ioctx.Context, fd int, src uintptr, count int, off int64) (int, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-pwrite) %w", err)
	}
	defer d.DecRef()

	n, err := d.PWrite(ctx, src, count, off)
	if err != nil {
		return n, fmt.Errorf("(kernel-pwrite) %w", err)
	}

	return n, nil
}

// Lseek moves the cursor of fd.
func (p *Process) Lseek(ctx *ioctx.Context, fd int, off int64, whence int) (int64, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("(kernel-lseek) %w", err)
	}
	defer d.DecRef()

	pos, err := d.Lseek(ctx, off, whence)
	if err != nil {
		return 0, fmt.Errorf("(kernel-lseek) %w", err)
	}

	return pos, nil
}

// Ftruncate sets the length of the object of fd.
func (p *Process) Ftruncate(ctx *ioctx.Context, fd int, length int64) error {
	d, err := p.descriptor(fd)
	if err != nil {
		return fmt.Errorf("(kernel-ftruncate) %w", err)
	}
	defer d.DecRef()

	if err := d.Truncate(ctx, length); err != nil {
		return fmt.Errorf("(kernel-ftruncate) %w", err)
	}

	return nil
}

// Fstat returns the metadata of the object of fd.
func (p *Process) Fstat(ctx *ioctx.Context, fd int) (inode.Stat, error) {
	d, err := p.descriptor(fd)
	if err != nil {
		return inode.Stat{}, fmt.Errorf("(kernel-fstat) %w", err)
	}
	defer d.DecRef()

	st, err := d.Stat(ctx)
	if err != nil {
		return inode.Stat{}, fmt.Errorf("(kernel-fstat) %w", err)
	}

	return st, nil
}

// Fsync flushes the object of fd.
func (p *Process) Fsync(ctx *ioctx.Context, fd int) error {
	d, err := p.descriptor(fd)
	if err != nil {
		return fmt.Errorf("(kernel-fsync) %w", err)
	}
	defer d.DecRef()

	if err := d.Sync(ctx); err != nil {
		return fmt.Errorf("(kernel-fsync) %w", err)
	}

	return nil
}

// Stat returns the metadata of path.
func (p *Process) Stat(ctx *ioctx.Context, path string) (inode.Stat, error) {
	v, err := p.Resolve(ctx, path)
	if err != nil {
		return inode.Stat{}, fmt.Errorf("(kernel-stat) %w", err)
	}
	defer v.DecRef()

	st, err := v.Stat(ctx)
	if err != nil {
		return inode.Stat{}, fmt.Errorf("(kernel-stat) %w", err)
	}

	return st, nil
}

// ReadDir lists the directory at path.
func (p *Process) ReadDir(ctx *ioctx.Context, path string) ([]inode.Dirent, error) {
	v, err := p.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("(kernel-readdir) %w", err)
	}
	defer v.DecRef()

	entries, err := v.ReadDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("(kernel-readdir) %w", err)
	}

	return entries, nil
}

// Mkdir creates the directory path.
func (p *Process) Mkdir(ctx *ioctx.Context, path string, mode uint32) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-mkdir) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Mkdir(ctx, name, mode); err != nil {
		return fmt.Errorf("(kernel-mkdir) %w", err)
	}

	return nil
}

// Unlink removes the non-directory path.
func (p *Process) Unlink(ctx *ioctx.Context, path string) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-unlink) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Unlink(ctx, name); err != nil {
		return fmt.Errorf("(kernel-unlink) %w", err)
	}

	return nil
}

// Rmdir removes the empty directory path.
func (p *Process) Rmdir(ctx *ioctx.Context, path string) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-rmdir) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Rmdir(ctx, name); err != nil {
		return fmt.Errorf("(kernel-rmdir) %w", err)
	}

	return nil
}

// Rename moves oldpath to newpath.
func (p *Process) Rename(ctx *ioctx.Context, oldpath, newpath string) error {
	from, oldname, err := p.resolveParent(ctx, oldpath)
	if err != nil {
		return fmt.Errorf("(kernel-rename) %w", err)
	}
	defer from.DecRef()

	to, newname, err := p.resolveParent(ctx, newpath)
	if err != nil {
		return fmt.Errorf("(kernel-rename) %w", err)
	}
	defer to.DecRef()

	if err := to.RenameHere(ctx, from, oldname, newname); err != nil {
		return fmt.Errorf("(kernel-rename) %w", err)
	}

	return nil
}

// Link creates newpath as another name of the object at oldpath.
func (p *Process) Link(ctx *ioctx.Context, oldpath, newpath string) error {
	target, err := p.Resolve(ctx, oldpath)
	if err != nil {
		return fmt.Errorf("(kernel-link) %w", err)
	}
	defer target.DecRef()

	dir, name, err := p.resolveParent(ctx, newpath)
	if err != nil {
		return fmt.Errorf("(kernel-link) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Link(ctx, name, target); err != nil {
		return fmt.Errorf("(kernel-link) %w", err)
	}

	return nil
}

// Symlink creates path as a symbolic link to target.
func (p *Process) Symlink(ctx *ioctx.Context, target, path string) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-symlink) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Symlink(ctx, target, name); err != nil {
		return fmt.Errorf("(kernel-symlink) %w", err)
	}

	return nil
}

// Readlink copies the target of the symbolic link at path to dst.
func (p *Process) Readlink(ctx *ioctx.Context, path string, dst uintptr, count int) (int, error) {
	v, err := p.Resolve(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("(kernel-readlink) %w", err)
	}
	defer v.DecRef()

	n, err := v.Readlink(ctx, dst, count)
	if err != nil {
		return n, fmt.Errorf("(kernel-readlink) %w", err)
	}

	return n, nil
}

// Mount mounts root over path.
func (p *Process) Mount(ctx *ioctx.Context, path string, root inode.Inode) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-mount) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Mount(ctx, name, root, false); err != nil {
		return fmt.Errorf("(kernel-mount) %w", err)
	}

	return nil
}

// BindMount makes the object at source visible at target as well.
func (p *Process) BindMount(ctx *ioctx.Context, source, target string) error {
	src, err := p.Resolve(ctx, source)
	if err != nil {
		return fmt.Errorf("(kernel-bind) %w", err)
	}
	defer src.DecRef()

	dir, name, err := p.resolveParent(ctx, target)
	if err != nil {
		return fmt.Errorf("(kernel-bind) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Mount(ctx, name, src.Inode(), true); err != nil {
		return fmt.Errorf("(kernel-bind) %w", err)
	}

	return nil
}

// Unmount removes the most recent mount over path.
func (p *Process) Unmount(ctx *ioctx.Context, path string) error {
	dir, name, err := p.resolveParent(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-unmount) %w", err)
	}
	defer dir.DecRef()

	if err := dir.Unmount(ctx, name); err != nil {
		return fmt.Errorf("(kernel-unmount) %w", err)
	}

	return nil
}

// Chdir changes the working directory to path.
func (p *Process) Chdir(ctx *ioctx.Context, path string) error {
	v, err := p.resolveDir(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-chdir) %w", err)
	}

	p.mu.Lock()
	old := p.cwd
	p.cwd = v
	p.mu.Unlock()

	old.DecRef()

	return nil
}

// Chroot changes the namespace root to path. The working directory is left
// alone.
func (p *Process) Chroot(ctx *ioctx.Context, path string) error {
	v, err := p.resolveDir(ctx, path)
	if err != nil {
		return fmt.Errorf("(kernel-chroot) %w", err)
	}

	p.mu.Lock()
	old := p.root
	p.root = v
	p.mu.Unlock()

	old.DecRef()

	return nil
}

func (p *Process) resolveDir(ctx *ioctx.Context, path string) (*vfs.Vnode, error) {
	v, err := p.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	if v.Inode().Type() != unix.S_IFDIR {
		v.DecRef()

		return nil, unix.ENOTDIR
	}

	return v, nil
}

// Fork returns a child process sharing every descriptor not flagged
// close-on-fork, with the same root and working directory.
func (p *Process) Fork() (*Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return nil, fmt.Errorf("(kernel-fork) %w", unix.ESRCH)
	}

	p.root.IncRef()
	p.cwd.IncRef()

	child := &Process{
		kernel: p.kernel,
		pid:    p.kernel.lastPID.Add(1),
		creds:  p.creds,
		files:  p.files.Fork(),
		root:   p.root,
		cwd:    p.cwd,
	}
	p.kernel.processes.Add(1)

	slog.Debug("Process forked",
		"pid", p.pid,
		"child", child.pid,
		"descriptors", child.files.Count(),
	)

	return child, nil
}

// Execute closes every descriptor flagged close-on-exec.
func (p *Process) Execute() {
	p.files.OnExecute()
}

// Exit closes every descriptor and drops the root and working directory.
// Later calls do nothing.
func (p *Process) Exit() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()

		return
	}
	p.exited = true
	root, cwd := p.root, p.cwd
	p.mu.Unlock()

	p.files.Close()
	root.DecRef()
	cwd.DecRef()

	p.kernel.processes.Add(-1)

	slog.Debug("Process exited",
		"pid", p.pid,
	)
}
