package ramfs

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/zhoujie-jay/kcore/internal/inode"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"golang.org/x/sys/unix"
)

// Dir is a directory. It holds a reference on every entry. The parent link
// is not a reference; it is only followed for "..", and is cleared once the
// directory is removed or its parent goes away.
type Dir struct {
	inode.Base
	fs *FS

	parent  *Dir
	entries map[string]inode.Inode
}

func (fs *FS) newDir(parent *Dir, mode uint32, creds ioctx.Credentials) *Dir {
	d := &Dir{
		fs:      fs,
		parent:  parent,
		entries: make(map[string]inode.Inode),
	}
	d.Init(fs.nextIno(), fs.dev, inode.KindDirectory, unix.S_IFDIR|permissions(mode), creds.EUID, creds.EGID)
	d.SetReleaseHook(d.release)

	return d
}

// release drops the references held on the entries once the directory
// itself is gone.
func (d *Dir) release() {
	d.fs.mu.Lock()
	entries := d.entries
	d.entries = nil
	d.parent = nil

	for _, node := range entries {
		if child, ok := node.(*Dir); ok && child.parent == d {
			child.parent = nil
		}
	}
	d.fs.mu.Unlock()

	for _, node := range entries {
		node.DecRef()
	}
}

func isDir(n inode.Inode) bool {
	return n.Type() == unix.S_IFDIR
}

// Open implements [inode.Opener]. It honors [unix.O_CREAT], [unix.O_EXCL],
// [unix.O_DIRECTORY] and [unix.O_TRUNC].
func (d *Dir) Open(ctx *ioctx.Context, name string, flags int, mode uint32) (inode.Inode, error) {
	node, err := d.lookupOrCreate(ctx, name, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("(ramfs-open) %w", err)
	}

	if flags&unix.O_DIRECTORY != 0 && !isDir(node) {
		node.DecRef()

		return nil, fmt.Errorf("(ramfs-open) %w", unix.ENOTDIR)
	}

	if flags&unix.O_TRUNC != 0 && flags&unix.O_ACCMODE != unix.O_RDONLY {
		if f, ok := node.(*File); ok {
			if err := f.Truncate(ctx, 0); err != nil {
				node.DecRef()

				return nil, fmt.Errorf("(ramfs-open) %w", err)
			}
		}
	}

	return node, nil
}

func (d *Dir) lookupOrCreate(ctx *ioctx.Context, name string, flags int, mode uint32) (inode.Inode, error) {
	switch name {
	case ".":
		d.IncRef()

		return d, nil

	case "..":
		d.fs.mu.RLock()
		defer d.fs.mu.RUnlock()

		if d.parent == nil || !d.parent.TryIncRef() {
			return nil, unix.ENOENT
		}

		return d.parent, nil
	}

	if err := validName(name); err != nil {
		return nil, err
	}

	create := flags&unix.O_CREAT != 0

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if d.entries == nil {
		return nil, unix.ENOENT
	}

	if node, ok := d.entries[name]; ok {
		if create && flags&unix.O_EXCL != 0 {
			return nil, unix.EEXIST
		}
		node.IncRef()

		return node, nil
	}

	if !create {
		return nil, unix.ENOENT
	}

	if flags&unix.O_DIRECTORY != 0 {
		return nil, unix.EINVAL
	}

	f := d.fs.newFile(mode, ctx.Creds)
	f.Linked()
	d.entries[name] = f
	d.Touch(false, true)

	f.IncRef()

	return f, nil
}

// Mkdir implements [inode.Mkdirer].
func (d *Dir) Mkdir(ctx *ioctx.Context, name string, mode uint32) error {
	if name == "." || name == ".." {
		return fmt.Errorf("(ramfs-mkdir) %w", unix.EEXIST)
	}

	if err := validName(name); err != nil {
		return fmt.Errorf("(ramfs-mkdir) %w", err)
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if d.entries == nil {
		return fmt.Errorf("(ramfs-mkdir) %w", unix.ENOENT)
	}

	if _, ok := d.entries[name]; ok {
		return fmt.Errorf("(ramfs-mkdir) %w", unix.EEXIST)
	}

	child := d.fs.newDir(d, mode, ctx.Creds)
	child.Linked() // name
	child.Linked() // "."
	d.Linked()     // ".." of child

	d.entries[name] = child
	d.Touch(false, true)

	return nil
}

// Link implements [inode.Linker].
func (d *Dir) Link(_ *ioctx.Context, name string, node inode.Inode) error {
	if name == "." || name == ".." {
		return fmt.Errorf("(ramfs-link) %w", unix.EEXIST)
	}

	if err := validName(name); err != nil {
		return fmt.Errorf("(ramfs-link) %w", err)
	}

	if node.Dev() != d.Dev() {
		return fmt.Errorf("(ramfs-link) %w", unix.EXDEV)
	}

	if isDir(node) {
		return fmt.Errorf("(ramfs-link) %w", unix.EPERM)
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if d.entries == nil {
		return fmt.Errorf("(ramfs-link) %w", unix.ENOENT)
	}

	if _, ok := d.entries[name]; ok {
		return fmt.Errorf("(ramfs-link) %w", unix.EEXIST)
	}

	node.IncRef()
	node.Linked()
	d.entries[name] = node
	d.Touch(false, true)

	return nil
}

// Unlink implements [inode.Unlinker].
func (d *Dir) Unlink(_ *ioctx.Context, name string) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("(ramfs-unlink) %w", err)
	}

	d.fs.mu.Lock()

	node, ok := d.entries[name]
	if !ok {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-unlink) %w", unix.ENOENT)
	}

	if isDir(node) {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-unlink) %w", unix.EISDIR)
	}

	delete(d.entries, name)
	d.fs.mu.Unlock()

	d.Touch(false, true)
	node.Unlinked()
	node.DecRef()

	return nil
}

// Rmdir implements [inode.Rmdirer].
func (d *Dir) Rmdir(_ *ioctx.Context, name string) error {
	switch name {
	case ".":
		return fmt.Errorf("(ramfs-rmdir) %w", unix.EINVAL)
	case "..":
		return fmt.Errorf("(ramfs-rmdir) %w", unix.ENOTEMPTY)
	}

	if err := validName(name); err != nil {
		return fmt.Errorf("(ramfs-rmdir) %w", err)
	}

	d.fs.mu.Lock()

	node, ok := d.entries[name]
	if !ok {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rmdir) %w", unix.ENOENT)
	}

	child, ok := node.(*Dir)
	if !ok {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rmdir) %w", unix.ENOTDIR)
	}

	if len(child.entries) > 0 {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rmdir) %w", unix.ENOTEMPTY)
	}

	delete(d.entries, name)
	child.entries = nil
	child.parent = nil
	d.fs.mu.Unlock()

	child.Unlinked() // name
	child.Unlinked() // "."
	d.Unlinked()     // ".." of child
	d.Touch(false, true)

	child.DecRef()

	return nil
}

// isAncestorOf reports whether d is dir or one of its ancestors. The caller
// holds the namespace lock.
func (d *Dir) isAncestorOf(dir *Dir) bool {
	for cur := dir; cur != nil; cur = cur.parent {
		if cur == d {
			return true
		}
		if cur.parent == cur {
			break
		}
	}

	return false
}

// RenameHere implements [inode.Renamer], moving oldname of from to newname
// of the receiver.
func (d *Dir) RenameHere(_ *ioctx.Context, from inode.Inode, oldname, newname string) error {
	src, ok := from.(*Dir)
	if !ok || src.fs != d.fs {
		return fmt.Errorf("(ramfs-rename) %w", unix.EXDEV)
	}

	for _, name := range []string{oldname, newname} {
		if name == "." || name == ".." {
			return fmt.Errorf("(ramfs-rename) %w", unix.EINVAL)
		}
		if err := validName(name); err != nil {
			return fmt.Errorf("(ramfs-rename) %w", err)
		}
	}

	d.fs.mu.Lock()

	node, ok := src.entries[oldname]
	if !ok {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rename) %w", unix.ENOENT)
	}

	if d.entries == nil {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rename) %w", unix.ENOENT)
	}

	moved, movingDir := node.(*Dir)
	if movingDir && moved.isAncestorOf(d) {
		d.fs.mu.Unlock()

		return fmt.Errorf("(ramfs-rename) %w", unix.EINVAL)
	}

	replaced, exists := d.entries[newname]
	if exists {
		if replaced == node {
			d.fs.mu.Unlock()

			return nil
		}

		if err := checkReplace(node, replaced); err != nil {
			d.fs.mu.Unlock()

			return fmt.Errorf("(ramfs-rename) %w", err)
		}
	}

	delete(src.entries, oldname)
	d.entries[newname] = node

	if movingDir {
		moved.parent = d
	}

	if dir, ok := replaced.(*Dir); exists && ok {
		dir.entries = nil
		dir.parent = nil
	}

	d.fs.mu.Unlock()

	if movingDir && src != d {
		src.Unlinked()
		d.Linked()
	}

	src.Touch(false, true)
	d.Touch(false, true)

	if exists {
		replaced.Unlinked()
		if isDir(replaced) {
			replaced.Unlinked()
			d.Unlinked()
		}
		replaced.DecRef()
	}

	return nil
}

// checkReplace validates renaming node over an existing entry. The caller
// holds the namespace lock.
func checkReplace(node, replaced inode.Inode) error {
	switch {
	case isDir(node) && !isDir(replaced):
		return unix.ENOTDIR
	case !isDir(node) && isDir(replaced):
		return unix.EISDIR
	}

	if dir, ok := replaced.(*Dir); ok && len(dir.entries) > 0 {
		return unix.ENOTEMPTY
	}

	return nil
}

// Symlink implements [inode.Symlinker].
func (d *Dir) Symlink(ctx *ioctx.Context, target, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("(ramfs-symlink) %w", unix.EEXIST)
	}

	if err := validName(name); err != nil {
		return fmt.Errorf("(ramfs-symlink) %w", err)
	}

	if target == "" {
		return fmt.Errorf("(ramfs-symlink) %w", unix.ENOENT)
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if d.entries == nil {
		return fmt.Errorf("(ramfs-symlink) %w", unix.ENOENT)
	}

	if _, ok := d.entries[name]; ok {
		return fmt.Errorf("(ramfs-symlink) %w", unix.EEXIST)
	}

	s := d.fs.newSymlink(target, ctx.Creds)
	s.Linked()
	d.entries[name] = s
	d.Touch(false, true)

	return nil
}

// ReadDir implements [inode.DirReader]. Entries are sorted by name after
// "." and "..".
func (d *Dir) ReadDir(*ioctx.Context) ([]inode.Dirent, error) {
	d.fs.mu.RLock()

	parent := d.parent
	if parent == nil {
		parent = d
	}

	out := make([]inode.Dirent, 0, len(d.entries)+2)
	out = append(out,
		inode.Dirent{Name: ".", Ino: d.Ino(), Type: unix.S_IFDIR},
		inode.Dirent{Name: "..", Ino: parent.Ino(), Type: unix.S_IFDIR},
	)

	for name, node := range d.entries {
		out = append(out, inode.Dirent{Name: name, Ino: node.Ino(), Type: node.Type()})
	}

	d.fs.mu.RUnlock()

	slices.SortFunc(out[2:], func(a, b inode.Dirent) int {
		return strings.Compare(a.Name, b.Name)
	})

	d.Touch(true, false)

	return out, nil
}

// Len returns the number of entries, excluding "." and "..".
func (d *Dir) Len() int {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	return len(d.entries)
}

// Unmounted implements [inode.Unmountable].
func (d *Dir) Unmounted(*ioctx.Context) {
	slog.Debug("Filesystem unmounted",
		"dev", d.fs.dev,
		"ino", d.Ino(),
	)
}
