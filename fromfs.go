package composefs

import (
	"fmt"
	"hash"
	"io/fs"
	"path"
)

// FSOption configures BuildFromFS.
type FSOption func(*fsConfig)

type fsConfig struct {
	digestFactory func() hash.Hash
}

// WithFSDigestFactory overrides the hash.Hash constructor BuildFromFS uses
// when computeDigest is true.
func WithFSDigestFactory(f func() hash.Hash) FSOption {
	return func(c *fsConfig) { c.digestFactory = f }
}

// BuildFromFS ingests an fs.FS into a new Node tree. Unlike
// BuildFromFilesystem, it has no access to uid/gid/device numbers or
// extended attributes (fs.FS exposes none of these), so it is mainly
// useful for tests built on testing/fstest.MapFS and for ingesting
// archives or embedded filesystems that only need regular files,
// directories, and symlinks. When computeDigest is true, every regular
// file's content is streamed through a digest context the same way the
// host-filesystem ingester does.
func BuildFromFS(fsys fs.FS, computeDigest bool, opts ...FSOption) (*Node, error) {
	var cfg fsConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if computeDigest && cfg.digestFactory == nil {
		return nil, fmt.Errorf("%w: BuildFromFS(computeDigest=true) requires WithFSDigestFactory", ErrInvalidArgument)
	}

	root := NewNode()
	root.SetMode(S_IFDIR | 0755)

	byPath := map[string]*Node{".": root}

	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return &PathError{Path: name, Err: err}
		}
		if name == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return &PathError{Path: name, Err: err}
		}

		n := NewNode()
		n.SetMode(ModeToUnix(info.Mode()))
		n.SetSize(uint64(info.Size()))
		n.SetMtime(info.ModTime().Unix(), 0)

		switch {
		case d.IsDir():
			// nothing further to populate
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := readFSSymlink(fsys, name)
			if err != nil {
				return &PathError{Path: name, Err: err}
			}
			n.SetPayload(target)
		default:
			if computeDigest && info.Size() != 0 {
				if err := computeFSDigest(fsys, name, n, &cfg); err != nil {
					return &PathError{Path: name, Err: err}
				}
			}
		}

		parentPath := path.Dir(name)
		parent, ok := byPath[parentPath]
		if !ok {
			return &PathError{Path: name, Err: fmt.Errorf("%w: parent %q not visited", ErrInvalidArgument, parentPath)}
		}
		if err := parent.AddChild(n, path.Base(name)); err != nil {
			return &PathError{Path: name, Err: err}
		}
		byPath[name] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

func computeFSDigest(fsys fs.FS, name string, n *Node, cfg *fsConfig) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return n.ComputeFsverityFromStream(f, cfg.digestFactory())
}

// readFSSymlink reads a symlink's target through a ReadLink method when
// fsys implements one (as os.DirFS-derived filesystems typically do);
// testing/fstest.MapFS does not model symlinks at all, so any attempt to
// walk one through BuildFromFS reports ErrInvalidArgument instead of
// silently treating it as a regular file.
func readFSSymlink(fsys fs.FS, name string) (string, error) {
	type readLinkFS interface {
		ReadLink(name string) (string, error)
	}
	if rl, ok := fsys.(readLinkFS); ok {
		return rl.ReadLink(name)
	}
	return "", fmt.Errorf("%w: fs.FS %T does not support reading symlinks", ErrInvalidArgument, fsys)
}
