package composefs

import (
	"bytes"
	"fmt"
	"hash"
	"io"
)

// Writer builds composefs images. It holds only construction-time
// configuration (an optional digest sink); unlike the tree it serializes,
// a Writer carries no mutable state between calls to Finalize and may be
// reused, but a single Writer is not safe for concurrent use (spec §5).
type Writer struct {
	digest hash.Hash
}

// WriterOption configures a Writer, mirroring the functional-options
// pattern used throughout this codebase's teacher for constructing
// writers (e.g. WithBlockSize/WithCompression there, WithDigest here).
type WriterOption func(*Writer)

// WithDigest attaches an fs-verity-shaped digest context (any hash.Hash
// producing a 32-byte sum, typically fsverity.New()) that every byte
// written by Finalize is teed through. Without this option, Finalize
// computes no digest.
func WithDigest(h hash.Hash) WriterOption {
	return func(w *Writer) { w.digest = h }
}

// NewWriter returns a Writer configured by opts.
func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats summarizes one Finalize call, grounded on the teacher's own
// Superblock bookkeeping (BytesUsed, InodeCnt) — exposed here because a
// builder library that surfaces none of this is unusual in this corpus.
type Stats struct {
	InodeCount      int
	VdataBytes      uint64
	ImageBytes      uint64
	DedupBytesSaved uint64
}

// Result is returned by Finalize.
type Result struct {
	Stats Stats

	// Digest is the fs-verity digest of the exact byte stream written to
	// the sink, valid only when DigestComputed is true (i.e. the Writer
	// was constructed with WithDigest).
	Digest         [32]byte
	DigestComputed bool
}

// Finalize is the serializer (spec §4.6): it canonicalizes root, computes
// the variable-data region, then streams the superblock, flat inode
// table, alignment padding, and vdata region to w in that order. A failed
// Finalize may have written an arbitrary prefix to w; callers must treat
// w as destroyed (spec §7).
func (w *Writer) Finalize(root *Node, sink io.Writer) (*Result, error) {
	tree, err := ComputeTree(root)
	if err != nil {
		return nil, err
	}

	arena := newVdataArena()
	computeVdata(tree, arena)

	dataOffset := alignUp4(superblockSize + tree.InodeTableSize)

	var head bytes.Buffer
	putSuperblock(&head, dataOffset)
	for _, n := range tree.Nodes {
		putInode(&head, n)
	}
	if uint64(head.Len()) != superblockSize+tree.InodeTableSize {
		return nil, fmt.Errorf("composefs: internal error: inode table size mismatch (wrote %d, budgeted %d)",
			head.Len(), superblockSize+tree.InodeTableSize)
	}
	if pad := dataOffset - uint64(head.Len()); pad > 0 {
		head.Write(make([]byte, pad))
	}

	if w.digest != nil {
		w.digest.Reset()
	}
	sw := &streamingWriter{w: sink, h: w.digest}
	if _, err := sw.Write(head.Bytes()); err != nil {
		return nil, err
	}
	if _, err := sw.Write(arena.bytes()); err != nil {
		return nil, err
	}

	res := &Result{
		Stats: Stats{
			InodeCount:      len(tree.Nodes),
			VdataBytes:      arena.len(),
			ImageBytes:      sw.n,
			DedupBytesSaved: arena.dedupSaved,
		},
	}
	if w.digest != nil {
		sum := w.digest.Sum(nil)
		if len(sum) != 32 {
			return nil, fmt.Errorf("%w: digest context produced %d bytes, want 32", ErrInvalidArgument, len(sum))
		}
		copy(res.Digest[:], sum)
		res.DigestComputed = true
	}
	return res, nil
}

// streamingWriter is the streaming writer of spec §4.7: it accepts an
// io.Writer sink, tracks total bytes written, and tees every accepted
// byte range into an optional digest context. io.Writer's contract
// already forbids the "return 0 with nil error" short write the spec's
// C-shaped callback allows, but streamingWriter still loops defensively
// against a misbehaving implementation instead of assuming the contract
// holds, and always reports any non-nil error as ErrIO.
type streamingWriter struct {
	w io.Writer
	h hash.Hash
	n uint64
}

func (sw *streamingWriter) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := sw.w.Write(p[total:])
		if n > 0 {
			if sw.h != nil {
				sw.h.Write(p[total : total+n])
			}
			total += n
			sw.n += uint64(n)
		}
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if n <= 0 {
			return total, fmt.Errorf("%w: sink made no progress", ErrIO)
		}
	}
	return total, nil
}
