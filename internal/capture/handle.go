package capture

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// DefaultScratchSize is the default frame assembly buffer capacity. JPEG
// frames from the supported sensors run 20-60 KB at SVGA quality.
const DefaultScratchSize = 64 << 10

// HandleOptions configures a capture handle.
type HandleOptions struct {
	// Warmup is the number of dummy bursts drained and discarded at the
	// start of every Begin. Some sensors emit one or two garbage cycles
	// after a restart before the first clean frame.
	Warmup int

	// ScratchSize is the capacity of the frame assembly buffer that
	// travels with the handle. Defaults to DefaultScratchSize.
	ScratchSize int
}

// Handle couples a Device with the reusable frame scratch buffer and
// enforces the one-burst-at-a-time discipline. The handle and buffer move
// together: a streaming session acquires both, cycles bursts, and gives
// both back.
type Handle struct {
	dev     Device
	scratch []byte
	warmup  int

	mu     sync.Mutex
	active bool
	bursts int64
	bytes  int64

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// NewHandle wraps dev in a capture handle.
func NewHandle(dev Device, opts HandleOptions) *Handle {
	size := opts.ScratchSize
	if size <= 0 {
		size = DefaultScratchSize
	}
	return &Handle{
		dev:         dev,
		scratch:     make([]byte, 0, size),
		warmup:      opts.Warmup,
		subscribers: make(map[string]chan string),
	}
}

// Device returns the underlying device.
func (h *Handle) Device() Device { return h.dev }

// Scratch returns the frame assembly buffer owned by this handle. The
// slice has zero length and fixed capacity; frame assembly appends into
// it and truncates it between frames.
func (h *Handle) Scratch() []byte { return h.scratch }

// Begin drains any configured warmup bursts and starts a live one.
func (h *Handle) Begin(ctx context.Context) (*Burst, error) {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return nil, ErrBurstActive
	}
	h.active = true
	h.mu.Unlock()

	for i := 0; i < h.warmup; i++ {
		if err := h.drainOne(ctx); err != nil {
			h.setActive(false)
			return nil, err
		}
		debugf("discarded warmup burst %d/%d on %s", i+1, h.warmup, h.dev.Kind())
	}

	tr, err := h.dev.BeginBurst(ctx)
	if err != nil {
		h.setActive(false)
		return nil, fmt.Errorf("%w: %v", ErrReceive, err)
	}

	h.mu.Lock()
	h.bursts++
	n := h.bursts
	h.mu.Unlock()
	debugf("burst %d begun on %s", n, h.dev.Kind())

	return &Burst{h: h, tr: tr}, nil
}

// drainOne runs a complete burst cycle and throws the bytes away.
func (h *Handle) drainOne(ctx context.Context) error {
	tr, err := h.dev.BeginBurst(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceive, err)
	}
	for {
		data, ended := tr.Peek()
		tr.Consume(len(data))
		if ended {
			break
		}
	}
	err = tr.Err()
	if stopErr := tr.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceive, err)
	}
	return nil
}

func (h *Handle) setActive(v bool) {
	h.mu.Lock()
	h.active = v
	h.mu.Unlock()
}

// Stats reports cumulative burst and byte counts for this handle.
func (h *Handle) Stats() (bursts, bytes int64, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bursts, h.bytes, h.active
}

// Subscribe creates a channel receiving one summary line per completed
// burst. The returned ID identifies the channel for Unsubscribe.
func (h *Handle) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Handle) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Handle) publish(line string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
			// skip slow subscribers rather than stall the burst cycle
		}
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Burst is one live read cycle on a handle. It proxies the device
// transfer and returns the handle when stopped.
type Burst struct {
	h     *Handle
	tr    Transfer
	bytes int64
}

// Peek returns the next unconsumed view of burst data. See Transfer.Peek.
func (b *Burst) Peek() (data []byte, ended bool) {
	return b.tr.Peek()
}

// Consume marks n bytes handled.
func (b *Burst) Consume(n int) {
	if n <= 0 {
		return
	}
	b.tr.Consume(n)
	b.bytes += int64(n)
}

// Bytes reports how many bytes this burst has consumed so far.
func (b *Burst) Bytes() int64 { return b.bytes }

// Err reports the device error that ended the burst, if any.
func (b *Burst) Err() error { return b.tr.Err() }

// Stop ends the burst and hands the handle back for the next cycle.
func (b *Burst) Stop() *Handle {
	if err := b.tr.Stop(); err != nil {
		debugf("burst stop: %v", err)
	}

	h := b.h
	h.mu.Lock()
	h.active = false
	h.bytes += b.bytes
	n := h.bursts
	h.mu.Unlock()

	h.publish(fmt.Sprintf("burst %d done: %d bytes", n, b.bytes))
	debugf("burst %d done: %d bytes", n, b.bytes)
	return h
}
