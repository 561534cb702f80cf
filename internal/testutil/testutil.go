// Package testutil provides shared test helpers.
//
// The JPEG helpers build marker-delimited byte sequences so tests can
// describe camera output without embedding real image fixtures.
package testutil

import (
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// JPEGFrame wraps payload in SOI/EOI markers, producing the minimal byte
// sequence the assembler treats as one complete frame.
func JPEGFrame(payload ...byte) []byte {
	frame := make([]byte, 0, len(payload)+4)
	frame = append(frame, 0xFF, 0xD8)
	frame = append(frame, payload...)
	frame = append(frame, 0xFF, 0xD9)
	return frame
}

// Chunks splits b into consecutive slices of at most size bytes,
// simulating how a transfer hands data out in arbitrary pieces.
func Chunks(b []byte, size int) [][]byte {
	if size <= 0 {
		return [][]byte{b}
	}
	var out [][]byte
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	out = append(out, b)
	return out
}
