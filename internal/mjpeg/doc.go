// Package mjpeg turns raw camera burst data into an MJPEG HTTP stream.
//
// Responsibilities: scanning unaligned capture chunks for JPEG frame
// boundaries, serialising complete frames as multipart/x-mixed-replace
// parts, and running the per-client session that cycles camera bursts
// for as long as the client stays connected.
// Key types: Assembler, StreamWriter, Session.
package mjpeg
