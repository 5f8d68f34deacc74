package composefs

import (
	"bytes"
	"encoding/binary"
)

// computeVdata is the variable-data computer plus xattr encoder (spec
// §4.4, §4.5). It visits every node of tree in canonical order, emitting
// each node's directory block, symlink target, regular-file payload, and
// content digest into arena, then makes a second pass emitting xattr
// blocks, recording every (off, len) reference back onto the node.
func computeVdata(tree *Tree, arena *vdataArena) {
	for _, n := range tree.Nodes {
		switch {
		case n.IsDir():
			if len(n.children) > 0 {
				block := buildDirBlock(n)
				n.variableData = arena.append(block, vdataAlign)
			}
			// Empty directories keep the zero vdataRef rather than emitting
			// a 4-byte n_dirents=0 block, so an empty tree's vdata region
			// is truly empty instead of holding one degenerate block.

		case isRegularMode(n.mode):
			if n.size != 0 && n.payload != "" {
				n.variableData = arena.append([]byte(n.payload), vdataDedup)
			}
			// Empty files, or files with no payload, get the zero reference.

		case isSymlinkMode(n.mode):
			if n.payload != "" {
				n.variableData = arena.append([]byte(n.payload), vdataDedup)
			}
		}

		if n.digest != nil {
			n.digestRef = arena.append(n.digest[:], vdataDedup)
		}
	}

	for _, n := range tree.Nodes {
		if len(n.xattrs) == 0 {
			continue
		}
		block := buildXattrBlock(n.xattrs)
		n.xattrRef = arena.append(block, vdataDedup|vdataAlign)
	}
}

// buildDirBlock encodes one directory's entries: header, packed dirent
// records, then concatenated name bytes (spec §4.4, §6). Each dirent's
// inode number and d_type describe the *target* of hard-link resolution,
// not the (possibly aliased) child node itself.
func buildDirBlock(dir *Node) []byte {
	type resolved struct {
		name   string
		target *Node
	}
	entries := make([]resolved, 0, len(dir.children))
	for _, c := range dir.children {
		target := c
		if c.linkTo != nil {
			t, err := followLinks(c)
			if err != nil {
				// ComputeTree already validated the tree; a cycle here
				// would be a bug in the caller bypassing ComputeTree.
				panic(err)
			}
			target = t
		}
		entries = append(entries, resolved{name: c.name, target: target})
	}

	var names bytes.Buffer
	var header bytes.Buffer

	var nEntries [4]byte
	binary.LittleEndian.PutUint32(nEntries[:], uint32(len(entries)))
	header.Write(nEntries[:])

	for _, e := range entries {
		d := dirent{
			InodeNum:   e.target.inodeNum,
			NameOffset: uint32(names.Len()),
			NameLen:    uint8(len(e.name)),
			DType:      dTypeForMode(e.target.mode),
		}
		putDirent(&header, d)
		names.WriteString(e.name)
	}

	out := make([]byte, 0, header.Len()+names.Len())
	out = append(out, header.Bytes()...)
	out = append(out, names.Bytes()...)
	return out
}

// buildXattrBlock encodes a node's (already key-sorted) xattr list (spec
// §4.5, §6): header, then packed (key_len, value_len) pairs, then all key
// bytes, then all value bytes.
func buildXattrBlock(xattrs []Xattr) []byte {
	var header bytes.Buffer
	var keys bytes.Buffer
	var values bytes.Buffer

	var nAttr [2]byte
	binary.LittleEndian.PutUint16(nAttr[:], uint16(len(xattrs)))
	header.Write(nAttr[:])

	for _, x := range xattrs {
		var lens [4]byte
		binary.LittleEndian.PutUint16(lens[0:2], uint16(len(x.Key)))
		binary.LittleEndian.PutUint16(lens[2:4], uint16(len(x.Value)))
		header.Write(lens[:])
		keys.WriteString(x.Key)
		values.Write(x.Value)
	}

	out := make([]byte, 0, header.Len()+keys.Len()+values.Len())
	out = append(out, header.Bytes()...)
	out = append(out, keys.Bytes()...)
	out = append(out, values.Bytes()...)
	return out
}
