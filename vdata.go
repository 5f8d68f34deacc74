package composefs

import "bytes"

// vdataFlag controls how vdataArena.append treats a blob.
type vdataFlag uint8

const (
	// vdataDedup coalesces byte-equal blobs: a later append of equal bytes
	// returns the earlier (off, len) instead of copying again.
	vdataDedup vdataFlag = 1 << iota
	// vdataAlign pads the arena tail to a 4-byte boundary before appending.
	vdataAlign
)

// vdataArena is the variable-data region (spec §4.3): a growable byte
// buffer plus a content-hash index used to coalesce equal blobs. Go's
// bytes.Buffer already amortizes growth the way the spec's "grow by
// doubling" describes, so no manual capacity bookkeeping is needed; the
// index stores plain (offset, length) pairs and re-slices the live buffer
// at probe time rather than caching sub-slices, so a buffer reallocation
// never invalidates an index entry (spec §9's suggested re-architecture).
type vdataArena struct {
	buf        bytes.Buffer
	index      map[uint64][]vdataRef
	dedupSaved uint64
}

func newVdataArena() *vdataArena {
	return &vdataArena{index: make(map[uint64][]vdataRef)}
}

// rollingHash is the blob hash described in spec §4.3: a rolling
// h = h*31 + byte accumulator. Go's map, rather than a fixed bucket array,
// absorbs what the spec calls "n_buckets"; collisions are still resolved
// by an explicit equality check.
func rollingHash(data []byte) uint64 {
	var h uint64
	for _, b := range data {
		h = h*31 + uint64(b)
	}
	return h
}

func (a *vdataArena) bytes() []byte { return a.buf.Bytes() }

func (a *vdataArena) len() uint64 { return uint64(a.buf.Len()) }

// append copies data to the arena tail (unless a dedup hit is found) and
// returns its (off, len) reference.
func (a *vdataArena) append(data []byte, flags vdataFlag) vdataRef {
	if flags&vdataAlign != 0 {
		pad := alignUp4(a.len()) - a.len()
		if pad > 0 {
			a.buf.Write(make([]byte, pad))
		}
	}

	var h uint64
	if flags&vdataDedup != 0 {
		h = rollingHash(data)
		for _, cand := range a.index[h] {
			if cand.Len == uint32(len(data)) && bytes.Equal(a.bytes()[cand.Off:cand.Off+uint64(cand.Len)], data) {
				a.dedupSaved += uint64(len(data))
				return cand
			}
		}
	}

	off := a.len()
	a.buf.Write(data)
	ref := vdataRef{Off: off, Len: uint32(len(data))}

	if flags&vdataDedup != 0 {
		a.index[h] = append(a.index[h], ref)
	}
	return ref
}
