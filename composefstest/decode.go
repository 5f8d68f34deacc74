// Package composefstest decodes images produced by composefs.Writer.Finalize
// so tests can assert on-disk structure directly rather than trusting the
// encoder to check its own work. It is a deliberately independent reader:
// it re-derives the wire layout from the format description instead of
// importing composefs's internal constants, the way an fsck-style tool
// would be written against a format rather than against another program's
// source.
package composefstest

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	formatMagic    = 0x31534643
	superblockSize = 4 + 4 + 8

	inodeWireSize = 4*5 + 8 + (8 + 4) + (8 + 4) + 3*(8+4)
	vdataRefSize  = 8 + 4
	direntSize    = 4 + 4 + 1 + 1 + 2
)

// d_type values, matching the POSIX DT_* encoding used on the wire.
const (
	DTUnknown = 0
	DTFifo    = 1
	DTChr     = 2
	DTDir     = 4
	DTBlk     = 6
	DTReg     = 8
	DTLnk     = 10
	DTSock    = 12
)

// VdataRef is a decoded (offset, length) reference into an Image's vdata region.
type VdataRef struct {
	Off uint64
	Len uint32
}

// IsAbsent reports whether the reference is the zero value.
func (r VdataRef) IsAbsent() bool { return r.Off == 0 && r.Len == 0 }

// Inode is one decoded flat inode table record.
type Inode struct {
	Mode, Nlink, Uid, Gid, Rdev uint32
	Size                        uint64
	MtimeSec                    int64
	MtimeNsec                   uint32
	CtimeSec                    int64
	CtimeNsec                   uint32
	DataRef, XattrRef, DigestRef VdataRef
}

// Image is a fully decoded composefs image.
type Image struct {
	Version     uint32
	Magic       uint32
	VdataOffset uint64
	Inodes      []Inode
	Vdata       []byte
}

// Decode reads and parses a complete image from r.
func Decode(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("composefstest: read image: %w", err)
	}
	if len(raw) < superblockSize {
		return nil, fmt.Errorf("composefstest: image shorter than superblock (%d bytes)", len(raw))
	}

	img := &Image{
		Version:     binary.LittleEndian.Uint32(raw[0:4]),
		Magic:       binary.LittleEndian.Uint32(raw[4:8]),
		VdataOffset: binary.LittleEndian.Uint64(raw[8:16]),
	}
	if img.Magic != formatMagic {
		return nil, fmt.Errorf("composefstest: bad magic %#x", img.Magic)
	}
	if img.VdataOffset > uint64(len(raw)) {
		return nil, fmt.Errorf("composefstest: vdata offset %d beyond image length %d", img.VdataOffset, len(raw))
	}

	tableBytes := img.VdataOffset - superblockSize
	count := tableBytes / inodeWireSize
	pad := tableBytes % inodeWireSize
	for _, b := range raw[superblockSize+count*inodeWireSize : img.VdataOffset] {
		if b != 0 {
			return nil, fmt.Errorf("composefstest: non-zero alignment padding byte")
		}
	}
	_ = pad

	img.Inodes = make([]Inode, count)
	off := superblockSize
	for i := range img.Inodes {
		n := &img.Inodes[i]
		rec := raw[off : off+inodeWireSize]
		n.Mode = binary.LittleEndian.Uint32(rec[0:4])
		n.Nlink = binary.LittleEndian.Uint32(rec[4:8])
		n.Uid = binary.LittleEndian.Uint32(rec[8:12])
		n.Gid = binary.LittleEndian.Uint32(rec[12:16])
		n.Rdev = binary.LittleEndian.Uint32(rec[16:20])
		n.Size = binary.LittleEndian.Uint64(rec[20:28])
		n.MtimeSec = int64(binary.LittleEndian.Uint64(rec[28:36]))
		n.MtimeNsec = binary.LittleEndian.Uint32(rec[36:40])
		n.CtimeSec = int64(binary.LittleEndian.Uint64(rec[40:48]))
		n.CtimeNsec = binary.LittleEndian.Uint32(rec[48:52])

		refOff := 52
		n.DataRef = decodeRef(rec[refOff:])
		n.XattrRef = decodeRef(rec[refOff+vdataRefSize:])
		n.DigestRef = decodeRef(rec[refOff+2*vdataRefSize:])

		off += inodeWireSize
	}

	img.Vdata = raw[img.VdataOffset:]
	return img, nil
}

func decodeRef(b []byte) VdataRef {
	return VdataRef{
		Off: binary.LittleEndian.Uint64(b[0:8]),
		Len: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// Bytes returns the raw vdata slice addressed by ref.
func (img *Image) Bytes(ref VdataRef) ([]byte, error) {
	if ref.IsAbsent() {
		return nil, nil
	}
	end := ref.Off + uint64(ref.Len)
	if end > uint64(len(img.Vdata)) {
		return nil, fmt.Errorf("composefstest: vdata ref %+v out of range (vdata is %d bytes)", ref, len(img.Vdata))
	}
	return img.Vdata[ref.Off:end], nil
}

// DirEntry is one decoded directory entry.
type DirEntry struct {
	InodeNum uint32
	Name     string
	DType    uint8
}

// DirEntries decodes a directory block addressed by ref. An absent ref
// (an empty directory never got a block) decodes as zero entries.
func (img *Image) DirEntries(ref VdataRef) ([]DirEntry, error) {
	if ref.IsAbsent() {
		return nil, nil
	}
	block, err := img.Bytes(ref)
	if err != nil {
		return nil, err
	}
	if len(block) < 4 {
		return nil, fmt.Errorf("composefstest: directory block too short")
	}
	n := binary.LittleEndian.Uint32(block[0:4])
	header := block[4:]
	namesStart := 4 + int(n)*direntSize
	if namesStart > len(block) {
		return nil, fmt.Errorf("composefstest: directory block header overruns block")
	}
	names := block[namesStart:]

	entries := make([]DirEntry, n)
	for i := range entries {
		rec := header[i*direntSize : (i+1)*direntSize]
		inodeNum := binary.LittleEndian.Uint32(rec[0:4])
		nameOffset := binary.LittleEndian.Uint32(rec[4:8])
		nameLen := rec[8]
		dtype := rec[9]
		if uint64(nameOffset)+uint64(nameLen) > uint64(len(names)) {
			return nil, fmt.Errorf("composefstest: dirent name out of range")
		}
		entries[i] = DirEntry{
			InodeNum: inodeNum,
			Name:     string(names[nameOffset : nameOffset+uint32(nameLen)]),
			DType:    dtype,
		}
	}
	return entries, nil
}

// Xattr is one decoded extended attribute.
type Xattr struct {
	Key   string
	Value []byte
}

// Xattrs decodes an xattr block addressed by ref. An absent ref (a node
// with no extended attributes never got a block) decodes as no xattrs.
func (img *Image) Xattrs(ref VdataRef) ([]Xattr, error) {
	if ref.IsAbsent() {
		return nil, nil
	}
	block, err := img.Bytes(ref)
	if err != nil {
		return nil, err
	}
	if len(block) < 2 {
		return nil, fmt.Errorf("composefstest: xattr block too short")
	}
	n := binary.LittleEndian.Uint16(block[0:2])
	header := block[2:]

	type lens struct{ keyLen, valLen uint16 }
	pairs := make([]lens, n)
	headerSize := int(n) * 4
	if headerSize > len(header) {
		return nil, fmt.Errorf("composefstest: xattr block header overruns block")
	}
	for i := range pairs {
		rec := header[i*4 : i*4+4]
		pairs[i] = lens{
			keyLen: binary.LittleEndian.Uint16(rec[0:2]),
			valLen: binary.LittleEndian.Uint16(rec[2:4]),
		}
	}

	keysStart := 2 + headerSize
	keyTotal := 0
	for _, p := range pairs {
		keyTotal += int(p.keyLen)
	}
	valuesStart := keysStart + keyTotal
	if valuesStart > len(block) {
		return nil, fmt.Errorf("composefstest: xattr block keys overrun block")
	}

	out := make([]Xattr, n)
	koff, voff := keysStart, valuesStart
	for i, p := range pairs {
		if koff+int(p.keyLen) > len(block) || voff+int(p.valLen) > len(block) {
			return nil, fmt.Errorf("composefstest: xattr block value out of range")
		}
		out[i] = Xattr{
			Key:   string(block[koff : koff+int(p.keyLen)]),
			Value: append([]byte(nil), block[voff:voff+int(p.valLen)]...),
		}
		koff += int(p.keyLen)
		voff += int(p.valLen)
	}
	return out, nil
}
