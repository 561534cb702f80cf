package mjpeg

import (
	"github.com/banshee-data/camstream/internal/monitoring"
)

// JPEG stream markers. A frame runs from SOI (FF D8) through EOI (FF D9)
// inclusive; everything between two frames is discarded.
const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
)

// DefaultBufferSize is the default frame assembly buffer capacity. JPEG
// frames from the supported sensors run 20-60 KB at SVGA quality.
const DefaultBufferSize = 64 << 10

// AssemblerConfig contains configuration for the Assembler.
type AssemblerConfig struct {
	// Buf is an optional zero-length, fixed-capacity buffer to assemble
	// frames into, typically the scratch buffer that travels with the
	// capture handle. When nil a fresh buffer of Capacity bytes is
	// allocated.
	Buf []byte

	// Capacity sets the buffer size when Buf is nil
	// (default DefaultBufferSize).
	Capacity int

	// OnFrame is called synchronously with each completed frame. The
	// slice is only valid for the duration of the call; consumers that
	// need the bytes longer must copy. A non-nil error halts processing
	// of the current chunk and propagates to the caller.
	OnFrame func(frame []byte) error
}

// Assembler converts an unaligned chunk sequence into complete JPEG
// frames. It holds at most one in-progress frame in a fixed-capacity
// buffer that is reused for every frame, so steady-state assembly does
// not allocate. State persists across chunks and across burst
// boundaries: a frame split over several bursts assembles correctly.
//
// Markers are detected only within a single chunk. An FF that falls on
// the last byte of a chunk is never paired with the D8 or D9 opening
// the next chunk: while searching the trailing FF is skipped, and
// in-frame it is appended as payload. This matches the observed sensor
// behavior byte for byte; the camera pads frames so markers arrive
// whole in practice.
//
// An Assembler is not safe for concurrent use. All methods must be
// called from the goroutine that owns the chunk stream.
type Assembler struct {
	buf       []byte
	onFrame   func([]byte) error
	inFrame   bool
	frames    uint64
	overflows uint64
}

// NewAssembler creates an Assembler with the specified configuration.
func NewAssembler(config AssemblerConfig) *Assembler {
	buf := config.Buf
	if buf == nil {
		size := config.Capacity
		if size <= 0 {
			size = DefaultBufferSize
		}
		buf = make([]byte, 0, size)
	} else {
		buf = buf[:0]
	}
	return &Assembler{buf: buf, onFrame: config.OnFrame}
}

// ProcessChunk scans one chunk of the byte stream, appending in-frame
// bytes to the assembly buffer and emitting a completed frame whenever
// an EOI marker closes one. Bytes outside a frame are discarded. An
// empty chunk is a no-op. The returned error is the sink's, never the
// scanner's.
func (a *Assembler) ProcessChunk(chunk []byte) error {
	i := 0
	for i < len(chunk) {
		if !a.inFrame {
			if i+1 < len(chunk) && chunk[i] == markerPrefix && chunk[i+1] == markerSOI {
				a.inFrame = true
				a.buf = a.buf[:0]
				if a.writeByte(markerPrefix) {
					a.writeByte(markerSOI)
				}
				i += 2
				continue
			}
			i++
			continue
		}

		if i+1 < len(chunk) && chunk[i] == markerPrefix && chunk[i+1] == markerEOI {
			if a.writeByte(markerPrefix) && a.writeByte(markerEOI) {
				a.frames++
				a.inFrame = false
				debugf("frame %d assembled: %d bytes", a.frames, len(a.buf))
				if a.onFrame != nil {
					if err := a.onFrame(a.buf); err != nil {
						return err
					}
				}
			}
			i += 2
			continue
		}

		a.writeByte(chunk[i])
		i++
	}
	return nil
}

// writeByte appends one byte to the frame in progress. When the buffer
// is full the in-progress frame is dropped and scanning resumes in the
// searching state; the partial frame is never emitted. Reports whether
// the byte was stored.
func (a *Assembler) writeByte(b byte) bool {
	if len(a.buf) >= cap(a.buf) {
		a.overflows++
		a.inFrame = false
		a.buf = a.buf[:0]
		monitoring.Logf("[Assembler] frame exceeded %d byte buffer, dropping and resyncing", cap(a.buf))
		return false
	}
	a.buf = append(a.buf, b)
	return true
}

// Reset drops any in-progress frame and returns to the searching state.
// The completed-frame count persists across resets.
func (a *Assembler) Reset() {
	a.inFrame = false
	a.buf = a.buf[:0]
}

// Frames returns the number of complete frames emitted since
// construction. The count is monotonic across resets and bursts.
func (a *Assembler) Frames() uint64 { return a.frames }

// Overflows returns the number of frames dropped because they exceeded
// the buffer capacity.
func (a *Assembler) Overflows() uint64 { return a.overflows }

// InFrame reports whether a frame is currently being assembled.
func (a *Assembler) InFrame() bool { return a.inFrame }

// Pending returns the byte count of the in-progress frame.
func (a *Assembler) Pending() int { return len(a.buf) }
