package composefs

import "testing"

func TestVdataArenaDedupsEqualBlobs(t *testing.T) {
	a := newVdataArena()
	r1 := a.append([]byte("hello world"), vdataDedup)
	r2 := a.append([]byte("hello world"), vdataDedup)
	if r1 != r2 {
		t.Fatalf("dedup: got distinct refs %+v, %+v for equal blobs", r1, r2)
	}
	if a.dedupSaved != uint64(len("hello world")) {
		t.Fatalf("dedupSaved = %d, want %d", a.dedupSaved, len("hello world"))
	}
	if a.len() != uint64(len("hello world")) {
		t.Fatalf("arena grew on a dedup hit: len = %d", a.len())
	}
}

func TestVdataArenaDistinctBlobsGetDistinctRefs(t *testing.T) {
	a := newVdataArena()
	r1 := a.append([]byte("aaaa"), vdataDedup)
	r2 := a.append([]byte("bbbb"), vdataDedup)
	if r1 == r2 {
		t.Fatal("distinct blobs collapsed to the same ref")
	}
}

func TestVdataArenaNoDedupWithoutFlag(t *testing.T) {
	a := newVdataArena()
	r1 := a.append([]byte("same"), 0)
	r2 := a.append([]byte("same"), 0)
	if r1 == r2 {
		t.Fatal("blobs appended without vdataDedup were coalesced anyway")
	}
	if a.len() != 8 {
		t.Fatalf("arena len = %d, want 8 (no dedup, no alignment)", a.len())
	}
}

func TestVdataArenaAligns(t *testing.T) {
	a := newVdataArena()
	a.append([]byte("xyz"), 0) // 3 bytes, leaves tail unaligned
	if a.len() != 3 {
		t.Fatalf("arena len = %d, want 3", a.len())
	}
	ref := a.append([]byte("abcd"), vdataAlign)
	if ref.Off != 4 {
		t.Fatalf("aligned append started at %d, want 4", ref.Off)
	}
}

func TestVdataArenaBucketCollisionStillEqualityChecked(t *testing.T) {
	a := newVdataArena()
	// Blobs that land in the same rollingHash bucket must still be
	// distinguished by the byte-equality check in append, not just by hash.
	// "Aa" and "BB" both hash to 2112 (65*31+97 == 66*31+66).
	r1 := a.append([]byte("Aa"), vdataDedup)
	r2 := a.append([]byte("BB"), vdataDedup)
	if r1 == r2 {
		t.Fatal("distinct blobs returned the same ref")
	}
	b1 := a.bytes()[r1.Off : r1.Off+uint64(r1.Len)]
	b2 := a.bytes()[r2.Off : r2.Off+uint64(r2.Len)]
	if string(b1) != "Aa" || string(b2) != "BB" {
		t.Fatalf("arena bytes = %q, %q, want Aa, BB", b1, b2)
	}
}
