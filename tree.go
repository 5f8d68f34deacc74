package composefs

import (
	"fmt"
	"sort"
)

// Tree is the result of ComputeTree: nodes in canonical breadth-first
// order (index == inode number, root is 0) plus the precomputed byte
// budget of the flat inode table.
type Tree struct {
	Nodes          []*Node
	InodeTableSize uint64
}

// ComputeTree is the canonicalizer (spec §4.2). It performs a single
// breadth-first pass from root, assigning contiguous inode numbers,
// sorting each directory's children by name and each node's xattrs by
// key, and fixing up directory link counts. Hard-link alias nodes
// (Node.linkTo != nil) are never themselves numbered or enqueued: their
// directory entries resolve to their target's inode number instead (spec
// §8 scenario 3), so an aliased node with children is silently skipped
// rather than rejected (spec §9).
func ComputeTree(root *Node) (*Tree, error) {
	if root.linkTo != nil {
		return nil, fmt.Errorf("%w: root cannot be a hard-link alias", ErrInvalidArgument)
	}

	var nodes []*Node
	root.inTree = true
	queue := []*Node{root}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if !n.IsDir() && len(n.children) > 0 {
			return nil, fmt.Errorf("%w: non-directory node has children", ErrInvalidArgument)
		}

		if n.IsDir() {
			subdirs := 0
			for _, c := range n.children {
				if c.IsDir() {
					subdirs++
				}
			}
			n.nlink = uint32(2 + subdirs)
			sort.Slice(n.children, func(i, j int) bool {
				return bytewiseLess(n.children[i].name, n.children[j].name)
			})
		}

		sort.Slice(n.xattrs, func(i, j int) bool {
			return bytewiseLess(n.xattrs[i].Key, n.xattrs[j].Key)
		})

		n.inodeNum = uint32(len(nodes))
		nodes = append(nodes, n)

		for _, c := range n.children {
			if c.linkTo != nil {
				// Hard-link alias: not numbered, not enqueued. Its own
				// children (if any; ill-formed) are unreachable from here.
				continue
			}
			if c.inTree {
				return nil, fmt.Errorf("%w: node shared by multiple parents or cyclic", ErrInvalidArgument)
			}
			c.inTree = true
			queue = append(queue, c)
		}
	}

	// inTree only needs to catch sharing/cycles within this single pass;
	// clearing it afterward lets the same tree be fed through ComputeTree
	// again unmodified (Finalize documents a Writer as reusable).
	for _, n := range nodes {
		n.inTree = false
	}

	return &Tree{
		Nodes:          nodes,
		InodeTableSize: uint64(len(nodes)) * inodeWireSize,
	}, nil
}

// Stat walks the canonical tree by path components, following hard-link
// aliases, and returns the named node. Grounded on the teacher's
// FindInode lookup helper; mainly useful for tests and diagnostics.
func (t *Tree) Stat(path string) (*Node, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFound
	}
	n := t.Nodes[0]
	if path == "" || path == "/" || path == "." {
		return n, nil
	}
	for _, part := range splitPath(path) {
		if part == "" {
			continue
		}
		if !n.IsDir() {
			return nil, ErrNotDirectory
		}
		child := n.LookupChild(part)
		if child == nil {
			return nil, ErrNotFound
		}
		if child.linkTo != nil {
			resolved, err := followLinks(child)
			if err != nil {
				return nil, err
			}
			child = resolved
		}
		n = child
	}
	return n, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
