package mjpeg

import (
	"fmt"
	"io"
	"strconv"
)

// Boundary is the multipart boundary token separating stream parts.
// Browsers key on it from the Content-Type header, so it appears in both
// the response preamble and every part delimiter.
const Boundary = "frame"

// Preamble is the raw HTTP response head sent once per streaming
// session, before the first part. The stream writer owns the status
// line because the client socket is hijacked from the HTTP server.
const Preamble = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=" + Boundary + "\r\n" +
	"Cache-Control: no-cache\r\n" +
	"Connection: keep-alive\r\n" +
	"\r\n"

const partHeaderPrefix = "--" + Boundary + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: "

var crlf = []byte("\r\n")

// ErrNoProgress reports a transport whose Write returned (0, nil); the
// connection is treated as stalled and the session ends.
var ErrNoProgress = fmt.Errorf("write made no progress")

// StreamWriter serialises completed JPEG frames onto one client
// connection as multipart/x-mixed-replace parts. It never closes the
// underlying writer; the HTTP layer owns the socket.
type StreamWriter struct {
	w            io.Writer
	header       []byte
	preambleSent bool
	parts        int64
	bytes        int64
}

// NewStreamWriter wraps w, normally the hijacked client socket. Any
// io.Writer works for tests.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w, header: make([]byte, 0, len(partHeaderPrefix)+16)}
}

// WritePreamble sends the response head. Calling it again after a
// successful send is a no-op.
func (sw *StreamWriter) WritePreamble() error {
	if sw.preambleSent {
		return nil
	}
	if err := sw.writeAll([]byte(Preamble)); err != nil {
		return err
	}
	sw.preambleSent = true
	return nil
}

// WriteFrame sends one frame as a complete part: boundary, part
// headers with the exact payload length, the frame bytes, and the
// trailing CRLF. The part header is formatted into a reusable scratch
// and the payload is written straight from the frame view, so a frame
// write does not allocate.
func (sw *StreamWriter) WriteFrame(frame []byte) error {
	sw.header = sw.header[:0]
	sw.header = append(sw.header, partHeaderPrefix...)
	sw.header = strconv.AppendInt(sw.header, int64(len(frame)), 10)
	sw.header = append(sw.header, "\r\n\r\n"...)

	if err := sw.writeAll(sw.header); err != nil {
		return err
	}
	if err := sw.writeAll(frame); err != nil {
		return err
	}
	if err := sw.writeAll(crlf); err != nil {
		return err
	}

	sw.parts++
	sw.bytes += int64(len(frame))
	return nil
}

// writeAll writes the whole buffer, continuing through short writes. A
// write error is returned as-is; a zero-byte write with no error
// returns ErrNoProgress.
func (sw *StreamWriter) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := sw.w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoProgress
		}
		p = p[n:]
	}
	return nil
}

// Parts returns the number of parts written.
func (sw *StreamWriter) Parts() int64 { return sw.parts }

// Bytes returns the total frame payload bytes written, excluding part
// headers and the preamble.
func (sw *StreamWriter) Bytes() int64 { return sw.bytes }
