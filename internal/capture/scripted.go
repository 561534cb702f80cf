package capture

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedBurst is one burst a ScriptedDevice delivers: its chunks in
// order, then an optional device error recorded on the transfer.
type ScriptedBurst struct {
	Chunks [][]byte
	Err    error
}

// ScriptedDevice implements Device with fully scripted behaviour for
// testing. Each BeginBurst plays the next scripted burst; chunk
// boundaries are preserved exactly as scripted.
type ScriptedDevice struct {
	mu     sync.Mutex
	script []ScriptedBurst
	next   int

	// BeginErr is returned by the next BeginBurst call if set, then
	// cleared.
	BeginErr error

	// Repeat loops the script instead of exhausting it.
	Repeat bool

	// BeginCalls and StopCalls record invocation counts.
	BeginCalls int
	StopCalls  int

	// Closed indicates whether Close was called.
	Closed bool
}

// NewScriptedDevice creates a device that plays the given bursts in order.
func NewScriptedDevice(script ...ScriptedBurst) *ScriptedDevice {
	return &ScriptedDevice{script: script}
}

// Append adds bursts to the end of the script.
func (d *ScriptedDevice) Append(bursts ...ScriptedBurst) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, bursts...)
}

// Kind implements Device.
func (d *ScriptedDevice) Kind() string { return "scripted" }

// BeginBurst plays the next scripted burst. Once the script is exhausted
// (and Repeat is off) it fails, which ends a streaming session the way a
// dead camera would.
func (d *ScriptedDevice) BeginBurst(ctx context.Context) (Transfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.BeginCalls++

	if d.BeginErr != nil {
		err := d.BeginErr
		d.BeginErr = nil
		return nil, err
	}
	if d.Closed {
		return nil, fmt.Errorf("scripted device closed")
	}
	if d.next >= len(d.script) {
		if !d.Repeat || len(d.script) == 0 {
			return nil, fmt.Errorf("script exhausted after %d bursts", len(d.script))
		}
		d.next = 0
	}
	burst := d.script[d.next]
	d.next++

	q := newChunkQueue()
	for _, chunk := range burst.Chunks {
		q.push(chunk)
	}
	q.finish(burst.Err)
	return &scriptedTransfer{chunkQueue: q, dev: d}, nil
}

// Close implements Device.
func (d *ScriptedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

type scriptedTransfer struct {
	*chunkQueue
	dev *ScriptedDevice
}

// Stop records the call and drops any unread scripted data.
func (t *scriptedTransfer) Stop() error {
	t.dev.mu.Lock()
	t.dev.StopCalls++
	t.dev.mu.Unlock()
	return t.chunkQueue.Stop()
}
