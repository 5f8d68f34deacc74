package composefs

import (
	"bytes"
	"fmt"
	"io"
)

// MaxNameLength is the longest directory entry name accepted by AddChild,
// matching the on-disk dirent's single-byte name_len field headroom used
// by real composefs images (LCFS_MAX_NAME_LENGTH).
const MaxNameLength = 255

// MaxXattrValueLen is the largest xattr value accepted by SetXattr; the
// xattr block's value_len wire field is a u16.
const MaxXattrValueLen = 65535

// MaxXattrKeyLen is the largest xattr key accepted by SetXattr; the xattr
// block's key_len wire field is a u16.
const MaxXattrKeyLen = 65535

// Xattr is a single (key, value) extended attribute pair attached to a Node.
type Xattr struct {
	Key   string
	Value []byte
}

// vdataRef is an (offset, length) reference into a Writer's variable-data
// arena. The zero value means "absent".
type vdataRef struct {
	Off uint64
	Len uint32
}

func (r vdataRef) isAbsent() bool { return r.Off == 0 && r.Len == 0 }

// Node represents one inode of the tree being built: a file, directory,
// symlink, device, or hard-link alias. Nodes are created detached with
// refcount 1 (see Ref/Unref) and are attached to at most one parent at a
// time (spec §3 invariants).
type Node struct {
	mode uint32
	uid  uint32
	gid  uint32
	rdev uint64
	size uint64

	nlink uint32

	mtimeSec  int64
	mtimeNsec uint32
	ctimeSec  int64
	ctimeNsec uint32

	// payload is the symlink target for symlinks, or an opaque backing-file
	// reference for regular files. The builder never reads file content
	// through it; it is stored and emitted verbatim.
	payload string

	digest *[32]byte

	xattrs []Xattr

	children []*Node
	name     string
	parent   *Node

	// linkTo is set by MakeHardlink. A node with linkTo != nil is not
	// itself emitted as an inode; its directory entry refers to linkTo's
	// (already-normalized) inode number.
	linkTo *Node

	refcnt int

	// Fields below are populated by ComputeTree (the canonicalizer) and
	// are meaningless before a build.
	inodeNum     uint32
	inTree       bool
	variableData vdataRef
	xattrRef     vdataRef
	digestRef    vdataRef
}

// NewNode returns a fresh detached node with nlink 1 and mode 0.
func NewNode() *Node {
	return &Node{nlink: 1, refcnt: 1}
}

// Ref increments the node's reference count.
func (n *Node) Ref() *Node {
	n.refcnt++
	return n
}

// Unref decrements the node's reference count. At zero, the node must have
// no parent; callers that violate this have a dangling-attachment bug.
func (n *Node) Unref() {
	n.refcnt--
	if n.refcnt < 0 {
		panic("composefs: Node refcount went negative")
	}
	if n.refcnt == 0 && n.parent != nil {
		panic("composefs: Node freed while still attached to a parent")
	}
}

// IsDir reports whether the node's mode bits mark it as a directory.
func (n *Node) IsDir() bool { return isDirMode(n.mode) }

// Mode returns the raw POSIX mode bits (type + permission).
func (n *Node) Mode() uint32 { return n.mode }

// SetMode sets the raw POSIX mode bits (type + permission).
func (n *Node) SetMode(mode uint32) { n.mode = mode }

// SetUid sets the owning user id.
func (n *Node) SetUid(uid uint32) { n.uid = uid }

// SetGid sets the owning group id.
func (n *Node) SetGid(gid uint32) { n.gid = gid }

// SetRdev sets the device number for block/char device nodes.
func (n *Node) SetRdev(rdev uint64) { n.rdev = rdev }

// SetSize sets the logical file size.
func (n *Node) SetSize(size uint64) { n.size = size }

// SetNlink overrides the link count. Directory link counts are recomputed
// by ComputeTree regardless of any value set here (spec §4.2 step 2).
func (n *Node) SetNlink(nlink uint32) { n.nlink = nlink }

// SetMtime sets the modification time.
func (n *Node) SetMtime(sec int64, nsec uint32) { n.mtimeSec, n.mtimeNsec = sec, nsec }

// SetCtime sets the status-change time.
func (n *Node) SetCtime(sec int64, nsec uint32) { n.ctimeSec, n.ctimeNsec = sec, nsec }

// SetPayload sets the symlink target or regular-file backing reference.
func (n *Node) SetPayload(payload string) { n.payload = payload }

// Payload returns the symlink target or regular-file backing reference.
func (n *Node) Payload() string { return n.payload }

// SetFsverityDigest attaches a precomputed 32-byte content digest.
func (n *Node) SetFsverityDigest(digest [32]byte) {
	d := digest
	n.digest = &d
}

// ComputeFsverityFromStream streams r through h, attaching the resulting
// digest to the node. h is typically an fsverity.New() hash.Hash, but any
// 32-byte hash.Hash works (spec: "the latter streams bytes through the
// fs-verity context to produce the digest").
func (n *Node) ComputeFsverityFromStream(r io.Reader, h digestHash) error {
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	sum := h.Sum(nil)
	if len(sum) != 32 {
		return fmt.Errorf("%w: digest context produced %d bytes, want 32", ErrInvalidArgument, len(sum))
	}
	var d [32]byte
	copy(d[:], sum)
	n.digest = &d
	return nil
}

// digestHash is the minimal subset of hash.Hash the fs-verity digest
// context needs: io.Writer plus Sum. Any hash.Hash with a 32-byte digest
// satisfies it, so callers are never forced to depend on this package's
// concrete fsverity implementation.
type digestHash interface {
	io.Writer
	Sum(b []byte) []byte
}

// AddChild attaches child to parent under name. It fails with
// ErrNotDirectory if the parent is not a directory, ErrNameTooLong if
// len(name) exceeds MaxNameLength, ErrAlreadyAttached if child already has
// a parent, or ErrExists if a sibling already uses name. On success no
// additional reference is taken: ownership of the caller's reference to
// child is transferred to the parent (spec §4.1).
func (p *Node) AddChild(child *Node, name string) error {
	if !p.IsDir() {
		return ErrNotDirectory
	}
	if name == "" || len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if child.parent != nil || child.name != "" {
		return ErrAlreadyAttached
	}
	for _, c := range p.children {
		if c.name == name {
			return ErrExists
		}
	}

	child.name = name
	child.parent = p
	p.children = append(p.children, child)
	return nil
}

// RemoveChild removes the named child from parent, dropping one reference
// on it. The order of remaining siblings is not preserved (ComputeTree
// re-sorts regardless).
func (p *Node) RemoveChild(name string) error {
	if !p.IsDir() {
		return ErrNotDirectory
	}
	for i, c := range p.children {
		if c.name == name {
			p.children[i] = p.children[len(p.children)-1]
			p.children = p.children[:len(p.children)-1]
			c.name = ""
			c.parent = nil
			c.Unref()
			return nil
		}
	}
	return ErrNotFound
}

// LookupChild returns the named child, or nil if none exists.
func (p *Node) LookupChild(name string) *Node {
	for _, c := range p.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Children returns the node's current children in attachment order (not
// yet canonical; ComputeTree sorts them by name).
func (n *Node) Children() []*Node {
	return n.children
}

// Name returns the name the node was attached under, or "" if detached.
func (n *Node) Name() string { return n.name }

// Parent returns the node's parent, or nil if detached.
func (n *Node) Parent() *Node { return n.parent }

// followLinks chases a hard-link chain to its non-aliased target. Chains
// are expected to be short in practice; an iterative walk with a
// visited-set guard is used instead of recursion to stay safe against
// pathological input (spec §9, "Recursion in follow_links").
func followLinks(n *Node) (*Node, error) {
	visited := map[*Node]bool{n: true}
	for n.linkTo != nil {
		n = n.linkTo
		if visited[n] {
			return nil, fmt.Errorf("%w: hard-link cycle", ErrInvalidArgument)
		}
		visited[n] = true
	}
	return n, nil
}

// MakeHardlink makes n a hard-link alias of target: n keeps its own
// attributes but will not be emitted as a separate inode, and its
// directory entry will refer to target's (normalized) inode number.
// Hard-linking a directory, on either side, is rejected (spec §9 open
// question, resolved per the spec's own recommendation).
func (n *Node) MakeHardlink(target *Node) error {
	if n.IsDir() || target.IsDir() {
		return fmt.Errorf("%w: cannot hard-link a directory", ErrInvalidArgument)
	}
	resolved, err := followLinks(target)
	if err != nil {
		return err
	}
	if resolved == n {
		return fmt.Errorf("%w: cannot hard-link a node to itself", ErrInvalidArgument)
	}
	n.linkTo = resolved
	resolved.Ref()
	resolved.nlink++
	return nil
}

// SetXattr sets key to value, replacing any existing value for key.
// Values longer than MaxXattrValueLen are rejected, as are keys longer
// than MaxXattrKeyLen (buildXattrBlock packs each length into a u16).
func (n *Node) SetXattr(key string, value []byte) error {
	if len(key) > MaxXattrKeyLen {
		return fmt.Errorf("%w: xattr key too long", ErrInvalidArgument)
	}
	if len(value) > MaxXattrValueLen {
		return fmt.Errorf("%w: xattr value too long", ErrInvalidArgument)
	}
	cp := append([]byte(nil), value...)
	for i := range n.xattrs {
		if n.xattrs[i].Key == key {
			n.xattrs[i].Value = cp
			return nil
		}
	}
	n.xattrs = append(n.xattrs, Xattr{Key: key, Value: cp})
	return nil
}

// GetXattr returns the value for key and whether it was present.
func (n *Node) GetXattr(key string) ([]byte, bool) {
	for _, x := range n.xattrs {
		if x.Key == key {
			return x.Value, true
		}
	}
	return nil, false
}

// UnsetXattr removes key if present. Unlike the C implementation this
// reimplementation is grounded on, it reports success as a nil error in
// all cases where key was looked up, per spec §9's resolved open question.
func (n *Node) UnsetXattr(key string) error {
	for i, x := range n.xattrs {
		if x.Key == key {
			n.xattrs = append(n.xattrs[:i], n.xattrs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Xattrs returns the node's extended attributes in their current (not yet
// canonical) order.
func (n *Node) Xattrs() []Xattr {
	return n.xattrs
}

// bytewiseLess implements the canonical ordering used for both child
// names and xattr keys: plain byte-by-byte comparison (spec §4.2 step 3/4,
// "bytewise memcmp").
func bytewiseLess(a, b string) bool {
	return bytes.Compare([]byte(a), []byte(b)) < 0
}
