package composefs

import (
	"bytes"
	"encoding/binary"
)

// On-disk format constants (spec §6).
const (
	formatVersion = 1
	// formatMagic is "CFS1" read as a little-endian u32. The spec leaves the
	// exact magic value unspecified; this is the concrete choice recorded in
	// DESIGN.md.
	formatMagic = 0x31534643

	superblockSize = 4 + 4 + 8 // version, magic, vdata_offset

	// inodeWireSize is sizeof(inode_wire): mode, nlink, uid, gid, rdev (5*u32)
	// + size (u64) + mtime (u64+u32) + ctime (u64+u32) + 3 vdata_ref (u64+u32 each).
	inodeWireSize = 4*5 + 8 + (8 + 4) + (8 + 4) + 3*(8+4)

	vdataRefSize = 8 + 4
)

// d_type values, POSIX DT_* encoding (spec §6), numerically the same as
// golang.org/x/sys/unix's DT_* constants.
const (
	dtUnknown = 0
	dtFifo    = 1
	dtChr     = 2
	dtDir     = 4
	dtBlk     = 6
	dtReg     = 8
	dtLnk     = 10
	dtSock    = 12
)

// dTypeForMode returns the on-disk d_type for a raw POSIX mode.
func dTypeForMode(mode uint32) uint8 {
	switch {
	case isDirMode(mode):
		return dtDir
	case isRegularMode(mode):
		return dtReg
	case isSymlinkMode(mode):
		return dtLnk
	case isBlockDevMode(mode):
		return dtBlk
	case isCharDevMode(mode):
		return dtChr
	case isFifoMode(mode):
		return dtFifo
	case isSocketMode(mode):
		return dtSock
	default:
		return dtUnknown
	}
}

// alignUp4 rounds off up to the next multiple of 4.
func alignUp4(off uint64) uint64 {
	return (off + 3) &^ 3
}

// putSuperblock writes the superblock wire record.
func putSuperblock(buf *bytes.Buffer, vdataOffset uint64) {
	var b [superblockSize]byte
	binary.LittleEndian.PutUint32(b[0:4], formatVersion)
	binary.LittleEndian.PutUint32(b[4:8], formatMagic)
	binary.LittleEndian.PutUint64(b[8:16], vdataOffset)
	buf.Write(b[:])
}

// putVdataRef appends an (off, len) wire reference.
func putVdataRef(buf *bytes.Buffer, ref vdataRef) {
	var b [vdataRefSize]byte
	binary.LittleEndian.PutUint64(b[0:8], ref.Off)
	binary.LittleEndian.PutUint32(b[8:12], ref.Len)
	buf.Write(b[:])
}

// putInode appends one inode_wire record for n, whose directory entry
// target inode number (after hard-link resolution) is not needed here:
// the inode record itself only ever describes n's own attributes.
func putInode(buf *bytes.Buffer, n *Node) {
	var b [inodeWireSize]byte
	o := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(b[o:o+4], v)
		o += 4
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(b[o:o+8], v)
		o += 8
	}

	putU32(n.mode)
	putU32(n.nlink)
	putU32(n.uid)
	putU32(n.gid)
	putU32(uint32(n.rdev))
	putU64(n.size)
	putU64(uint64(n.mtimeSec))
	putU32(n.mtimeNsec)
	putU64(uint64(n.ctimeSec))
	putU32(n.ctimeNsec)
	buf.Write(b[:o])

	putVdataRef(buf, n.variableData)
	putVdataRef(buf, n.xattrRef)
	putVdataRef(buf, n.digestRef)
}

// dirent is the wire shape of one directory entry (spec §6).
type dirent struct {
	InodeNum   uint32
	NameOffset uint32
	NameLen    uint8
	DType      uint8
}

const direntWireSize = 4 + 4 + 1 + 1 + 2 // includes 2 bytes padding

func putDirent(buf *bytes.Buffer, d dirent) {
	var b [direntWireSize]byte
	binary.LittleEndian.PutUint32(b[0:4], d.InodeNum)
	binary.LittleEndian.PutUint32(b[4:8], d.NameOffset)
	b[8] = d.NameLen
	b[9] = d.DType
	// b[10:12] padding, left zero
	buf.Write(b[:])
}
