// Package fsverity implements the streaming digest context spec.md treats
// as an opaque external collaborator ("new / update(bytes) / finalize ->
// 32-byte digest / free"). It is a concrete Merkle-tree-over-sha256
// digest in the spirit of the Linux fs-verity scheme: content is hashed in
// fixed-size blocks, and block hashes are combined pairwise up a binary
// tree to a single root. It does not attempt to reproduce the exact
// on-disk fs-verity descriptor format the kernel computes (that belongs to
// the out-of-scope kernel-side reader); it exists so the builder's
// digest-totality property is independently checkable without depending
// on a kernel ioctl.
package fsverity

import (
	"crypto/sha256"
	"hash"
)

// BlockSize is the leaf granularity of the Merkle tree.
const BlockSize = 4096

// Digest is a streaming fs-verity-shaped content digest. The zero value
// is an empty context, the same as what New returns. Digest implements hash.Hash, so it
// can be passed directly as the digest sink of composefs.Node's
// ComputeFsverityFromStream or composefs.WithDigest.
type Digest struct {
	leaves [][32]byte
	partial []byte
	size    uint64
}

var _ hash.Hash = (*Digest)(nil)

// New returns a fresh streaming digest context.
func New() *Digest {
	return &Digest{}
}

// Write hashes complete blocks as they accumulate, keeping at most one
// partial block of raw bytes buffered regardless of total input size.
func (d *Digest) Write(p []byte) (int, error) {
	n := len(p)
	d.size += uint64(n)
	d.partial = append(d.partial, p...)
	for len(d.partial) >= BlockSize {
		d.leaves = append(d.leaves, sha256.Sum256(d.partial[:BlockSize]))
		d.partial = append([]byte(nil), d.partial[BlockSize:]...)
	}
	return n, nil
}

// Sum appends the 32-byte root digest to b and returns the result. It
// does not mutate the context's accumulated state (zero-pads a trailing
// partial block only for the purpose of this computation).
func (d *Digest) Sum(b []byte) []byte {
	leaves := append([][32]byte(nil), d.leaves...)
	if len(d.partial) > 0 || len(leaves) == 0 {
		padded := make([]byte, BlockSize)
		copy(padded, d.partial)
		leaves = append(leaves, sha256.Sum256(padded))
	}
	root := merkleRoot(leaves)
	return append(b, root[:]...)
}

// Reset discards all accumulated state.
func (d *Digest) Reset() {
	d.leaves = nil
	d.partial = nil
	d.size = 0
}

// Size returns the digest length in bytes, 32.
func (d *Digest) Size() int { return 32 }

// BlockSize returns the leaf block size.
func (d *Digest) BlockSize() int { return BlockSize }

// merkleRoot combines a level of block hashes pairwise until one remains.
// An odd hash out at any level carries up unchanged rather than being
// duplicated, so that appending a single zero-padded trailing block never
// silently doubles its own weight in the tree.
func merkleRoot(level [][32]byte) [32]byte {
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				var pair [64]byte
				copy(pair[:32], level[i][:])
				copy(pair[32:], level[i+1][:])
				next = append(next, sha256.Sum256(pair[:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	if len(level) == 0 {
		return sha256.Sum256(nil)
	}
	return level[0]
}
