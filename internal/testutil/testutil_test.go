package testutil

import (
	"bytes"
	"testing"
)

func TestJPEGFrame(t *testing.T) {
	got := JPEGFrame(0x01, 0x02)
	want := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	if !bytes.Equal(got, want) {
		t.Errorf("JPEGFrame = % X, want % X", got, want)
	}

	empty := JPEGFrame()
	if !bytes.Equal(empty, []byte{0xFF, 0xD8, 0xFF, 0xD9}) {
		t.Errorf("empty frame = % X", empty)
	}
}

func TestChunks(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}

	got := Chunks(b, 2)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !bytes.Equal(got[0], []byte{1, 2}) || !bytes.Equal(got[1], []byte{3, 4}) || !bytes.Equal(got[2], []byte{5}) {
		t.Errorf("chunks = %v", got)
	}

	var joined []byte
	for _, c := range got {
		joined = append(joined, c...)
	}
	if !bytes.Equal(joined, b) {
		t.Errorf("rejoined = %v, want %v", joined, b)
	}

	whole := Chunks(b, 0)
	if len(whole) != 1 || !bytes.Equal(whole[0], b) {
		t.Errorf("Chunks(b, 0) = %v, want [%v]", whole, b)
	}
}
