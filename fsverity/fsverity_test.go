package fsverity_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/doanac/composefs/fsverity"
)

func TestDigestEmptyInputIsStable(t *testing.T) {
	d1 := fsverity.New()
	d2 := fsverity.New()
	if got, want := d1.Sum(nil), d2.Sum(nil); !bytes.Equal(got, want) {
		t.Fatalf("two empty digests differ: %x vs %x", got, want)
	}
}

func TestDigestIsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("composefs"), 1000)
	d1 := fsverity.New()
	d1.Write(data)
	d2 := fsverity.New()
	d2.Write(data)
	if !bytes.Equal(d1.Sum(nil), d2.Sum(nil)) {
		t.Fatal("identical content produced different digests")
	}
}

func TestDigestSensitiveToContent(t *testing.T) {
	d1 := fsverity.New()
	d1.Write([]byte("hello"))
	d2 := fsverity.New()
	d2.Write([]byte("world"))
	if bytes.Equal(d1.Sum(nil), d2.Sum(nil)) {
		t.Fatal("distinct content produced equal digests")
	}
}

func TestDigestInsensitiveToWriteChunking(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 3*fsverity.BlockSize+17)

	whole := fsverity.New()
	whole.Write(data)

	chunked := fsverity.New()
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		chunked.Write(data[i:end])
	}

	if !bytes.Equal(whole.Sum(nil), chunked.Sum(nil)) {
		t.Fatal("digest depends on Write call boundaries, not just total content")
	}
}

func TestDigestSingleBlockEqualsPaddedLeafHash(t *testing.T) {
	data := []byte("short content")
	d := fsverity.New()
	d.Write(data)
	got := d.Sum(nil)

	padded := make([]byte, fsverity.BlockSize)
	copy(padded, data)
	want := sha256.Sum256(padded)

	if !bytes.Equal(got, want[:]) {
		t.Fatalf("single-block digest = %x, want zero-padded leaf hash %x", got, want)
	}
}

func TestDigestSizeAndBlockSize(t *testing.T) {
	d := fsverity.New()
	if d.Size() != 32 {
		t.Fatalf("Size() = %d, want 32", d.Size())
	}
	if d.BlockSize() != fsverity.BlockSize {
		t.Fatalf("BlockSize() = %d, want %d", d.BlockSize(), fsverity.BlockSize)
	}
}

func TestDigestResetClearsState(t *testing.T) {
	d := fsverity.New()
	d.Write([]byte("some content"))
	d.Reset()
	fresh := fsverity.New()
	if !bytes.Equal(d.Sum(nil), fresh.Sum(nil)) {
		t.Fatal("Reset did not return the digest to its zero-value state")
	}
}
