// Package capture provides exclusive access to a JPEG camera device and
// the burst-based transfer machinery for reading its byte output.
//
// A camera delivers compressed frames as a raw byte stream in
// hardware-paced bursts. Devices hide the transport (serial port, capture
// subprocess, recorded fixture); the Handle enforces that exactly one
// burst is in flight, and the Cell enforces that exactly one owner holds
// the handle at a time.
package capture

import (
	"context"
	"fmt"
)

var (
	// ErrBusy is returned when the capture handle is already held by
	// another session.
	ErrBusy = fmt.Errorf("capture handle already held")

	// ErrBurstActive is returned by Begin when a previous burst was not
	// stopped.
	ErrBurstActive = fmt.Errorf("burst already in progress")

	// ErrReceive wraps device failures while starting or running a burst.
	ErrReceive = fmt.Errorf("camera receive failed")
)

// Device is the minimal interface a camera byte source implements.
// Implementations deliver data one burst at a time; the caller must stop
// each transfer before beginning the next.
type Device interface {
	// BeginBurst starts a hardware read cycle and returns the live
	// transfer. The returned transfer is valid until Stop is called.
	BeginBurst(ctx context.Context) (Transfer, error)

	// Kind names the device implementation for logs and health output.
	Kind() string

	// Close releases the underlying transport.
	Close() error
}

// Transfer is one in-flight burst. Peek and Consume walk the received
// bytes without copying; Stop ends the cycle.
type Transfer interface {
	// Peek returns a view of the next unconsumed bytes, blocking while
	// the burst is live and no data has arrived. The returned view is
	// valid until the matching Consume. An empty view with ended=false
	// can occur mid-burst and is not end of data; ended is true only
	// alongside the final bytes of the burst (or an empty view once the
	// burst is over).
	Peek() (data []byte, ended bool)

	// Consume marks n bytes of the current view as handled. Consumed
	// bytes are never returned again.
	Consume(n int)

	// Err reports the device error that ended the burst, if any. Valid
	// once Peek has reported ended.
	Err() error

	// Stop terminates the burst and releases transfer resources. Safe
	// to call after the burst has ended on its own.
	Stop() error
}
