//go:build linux

package composefs

import (
	"errors"
	"fmt"
	"hash"
	"os"
	"syscall"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/doanac/composefs/fsverity"
)

// errSkipEntry signals that an ingested directory entry should be
// silently omitted (used for device nodes under SkipDevices) rather than
// attached to its parent.
var errSkipEntry = errors.New("composefs: entry skipped")

// BuildFromPath ingests the host filesystem subtree rooted at path into a
// new Node tree. It is a convenience wrapper over BuildFromFilesystem
// using the current working directory as the base.
func BuildFromPath(path string, flags BuildFlags, opts ...IngestOption) (*Node, error) {
	return BuildFromFilesystem(unix.AT_FDCWD, path, flags, opts...)
}

// BuildFromFilesystem is the filesystem ingester (spec §4.8): given a base
// directory file descriptor and a path relative to it, it builds a Node
// tree mirroring the on-disk subtree, honoring flags for xattrs, device
// nodes, timestamps, and digest computation. On failure it returns a
// *PathError carrying the "/"-joined path from fname down to the failing
// leaf.
func BuildFromFilesystem(dirfd int, fname string, flags BuildFlags, opts ...IngestOption) (*Node, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}

	cfg := ingestConfig{digestFactory: func() hash.Hash { return fsverity.New() }}
	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := ingestOne(dirfd, fname, fname, flags, &cfg)
	if err != nil {
		if pe, ok := err.(*PathError); ok {
			return nil, pe
		}
		return nil, &PathError{Path: fname, Err: err}
	}
	return n, nil
}

// ingestOne ingests a single path (file, directory, symlink, device,
// fifo, or socket), recursing into directories. path is the accumulated
// "/"-joined diagnostic path for error reporting.
func ingestOne(dirfd int, name, path string, flags BuildFlags, cfg *ingestConfig) (*Node, error) {
	pfd, err := unix.Openat(dirfd, name, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &PathError{Path: path, Err: err}
	}
	defer unix.Close(pfd)

	var st unix.Stat_t
	if err := unix.Fstat(pfd, &st); err != nil {
		return nil, &PathError{Path: path, Err: err}
	}

	if flags.Has(SkipDevices) && (isBlockDevMode(st.Mode) || isCharDevMode(st.Mode)) {
		return nil, errSkipEntry
	}

	n := NewNode()
	n.SetMode(st.Mode)
	n.SetUid(st.Uid)
	n.SetGid(st.Gid)
	n.SetRdev(st.Rdev)
	n.SetSize(uint64(st.Size))
	n.SetNlink(uint32(st.Nlink))
	if !flags.Has(UseEpoch) {
		n.SetMtime(int64(st.Mtim.Sec), uint32(st.Mtim.Nsec))
		n.SetCtime(int64(st.Ctim.Sec), uint32(st.Ctim.Nsec))
	}

	switch {
	case isRegularMode(st.Mode):
		if flags.Has(ComputeDigest) && st.Size != 0 {
			if err := computeDigest(dirfd, name, n, cfg); err != nil {
				return nil, &PathError{Path: path, Err: err}
			}
		}
	case isSymlinkMode(st.Mode):
		target, err := readSymlink(dirfd, name, int(st.Size))
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
		n.SetPayload(target)
	}

	if !flags.Has(SkipXattrs) {
		if err := copyXattrs(pfd, n); err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
	}

	if isDirMode(st.Mode) {
		if err := ingestDirEntries(dirfd, name, path, n, flags, cfg); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// ingestDirEntries opens dir's on-disk directory entries and recursively
// ingests each, skipping "." and "..".
func ingestDirEntries(dirfd int, name, path string, dir *Node, flags BuildFlags, cfg *ingestConfig) error {
	subfd, err := unix.Openat(dirfd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &PathError{Path: path, Err: err}
	}
	f := os.NewFile(uintptr(subfd), name)
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return &PathError{Path: path, Err: err}
	}

	for _, e := range entries {
		childName := e.Name()
		if childName == "." || childName == ".." {
			continue
		}
		childPath := path + "/" + childName

		child, err := ingestOne(subfd, childName, childPath, flags, cfg)
		if err != nil {
			if errors.Is(err, errSkipEntry) {
				continue
			}
			return err
		}
		if err := dir.AddChild(child, childName); err != nil {
			return &PathError{Path: childPath, Err: err}
		}
	}
	return nil
}

// readSymlink reads a symlink's target relative to dirfd.
func readSymlink(dirfd int, name string, sizeHint int) (string, error) {
	if sizeHint <= 0 {
		sizeHint = 256
	}
	buf := make([]byte, sizeHint+1)
	n, err := unix.Readlinkat(dirfd, name, buf)
	if err != nil {
		return "", err
	}
	if n == len(buf) {
		// Target grew between stat and readlink; retry with a generous buffer.
		buf = make([]byte, 65536)
		n, err = unix.Readlinkat(dirfd, name, buf)
		if err != nil {
			return "", err
		}
	}
	return string(buf[:n]), nil
}

// computeDigest streams a regular file's content through cfg's digest
// factory and attaches the result to n.
func computeDigest(dirfd int, name string, n *Node, cfg *ingestConfig) error {
	fd, err := unix.Openat(dirfd, name, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()

	return n.ComputeFsverityFromStream(f, cfg.digestFactory())
}

// copyXattrs lists and copies all extended attributes of the file
// referenced by the O_PATH descriptor fd, going through its
// /proc/self/fd/<fd> alias so that symlinks' own attributes are read
// rather than their targets' (spec §4.8 step 3).
func copyXattrs(fd int, n *Node) error {
	procPath := fmt.Sprintf("/proc/self/fd/%d", fd)

	names, err := xattr.List(procPath)
	if err != nil {
		if xattrUnsupported(err) {
			return nil
		}
		return fmt.Errorf("listxattr: %w", err)
	}

	for _, name := range names {
		val, err := xattr.Get(procPath, name)
		if err != nil {
			if xattrUnsupported(err) {
				continue
			}
			return fmt.Errorf("getxattr %q: %w", name, err)
		}
		if err := n.SetXattr(name, val); err != nil {
			return err
		}
	}
	return nil
}

// xattrUnsupported reports whether err indicates the underlying
// filesystem simply doesn't support extended attributes, in which case
// the ingester treats the node as having none rather than failing,
// mirroring rclone's local backend xattrIsNotSupported check.
func xattrUnsupported(err error) bool {
	var xerr *xattr.Error
	if !errors.As(err, &xerr) {
		return false
	}
	return xerr.Err == syscall.ENOTSUP || xerr.Err == syscall.EOPNOTSUPP || xerr.Err == xattr.ENOATTR
}
