package capture

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBurstBytes  = 256 << 10
	defaultQuietWindow = 50 * time.Millisecond
	defaultChunkSize   = 4096
)

// SerialConfig configures a SerialDevice.
type SerialConfig struct {
	// Path is the serial port device path, e.g. /dev/ttyUSB0.
	Path string

	// Options carries the UART parameters (baud rate etc.).
	Options SerialOptions

	// BurstBytes caps how many bytes one burst may deliver before it is
	// cut off. Defaults to 256 KiB, several frames at typical quality.
	BurstBytes int

	// QuietWindow is the idle period that ends a burst once at least one
	// byte has arrived. It doubles as the read timeout, so cancellation
	// is noticed within this window. Defaults to 50ms.
	QuietWindow time.Duration

	// ChunkSize is the read buffer size. Defaults to 4096.
	ChunkSize int

	// StartCommand, if set, is written to the port when a burst begins.
	// Serial JPEG cameras typically need a resume/capture command to
	// start emitting frame data.
	StartCommand []byte

	// StopCommand, if set, is written to the port when a burst stops.
	StopCommand []byte
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BurstBytes <= 0 {
		c.BurstBytes = defaultBurstBytes
	}
	if c.QuietWindow <= 0 {
		c.QuietWindow = defaultQuietWindow
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	return c
}

// SerialDevice reads camera bytes from a UART via go.bug.st/serial. A
// burst is a read window: bytes accumulate until the port goes quiet for
// QuietWindow or the byte budget is reached.
type SerialDevice struct {
	port serial.Port
	cfg  SerialConfig
}

// NewSerialDevice opens the port and prepares it for burst reads.
func NewSerialDevice(cfg SerialConfig) (*SerialDevice, error) {
	cfg = cfg.withDefaults()

	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}

	if err := port.SetReadTimeout(cfg.QuietWindow); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &SerialDevice{port: port, cfg: cfg}, nil
}

// Kind implements Device.
func (d *SerialDevice) Kind() string { return "serial" }

// BeginBurst starts a read window on the port.
func (d *SerialDevice) BeginBurst(ctx context.Context) (Transfer, error) {
	// Drop any bytes buffered since the last burst; the window starts
	// clean.
	_ = d.port.ResetInputBuffer()

	if len(d.cfg.StartCommand) > 0 {
		if _, err := d.port.Write(d.cfg.StartCommand); err != nil {
			return nil, fmt.Errorf("write start command: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &serialTransfer{
		chunkQueue: newChunkQueue(),
		dev:        d,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go d.pump(ctx, t)
	return t, nil
}

// pump reads port chunks into the transfer until the burst ends.
func (d *SerialDevice) pump(ctx context.Context, t *serialTransfer) {
	defer close(t.done)

	buf := make([]byte, d.cfg.ChunkSize)
	total := 0
	for {
		if ctx.Err() != nil {
			t.chunkQueue.finish(ctx.Err())
			return
		}

		n, err := d.port.Read(buf)
		if n > 0 {
			t.chunkQueue.push(buf[:n])
			total += n
			if total >= d.cfg.BurstBytes {
				t.chunkQueue.finish(nil)
				return
			}
		}
		if err != nil {
			t.chunkQueue.finish(fmt.Errorf("serial read: %w", err))
			return
		}
		if n == 0 && total > 0 {
			// Read timeout with data already received: the port went
			// quiet, the burst is over.
			t.chunkQueue.finish(nil)
			return
		}
	}
}

// Close implements Device.
func (d *SerialDevice) Close() error {
	return d.port.Close()
}

type serialTransfer struct {
	*chunkQueue
	dev    *SerialDevice
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop ends the read window and waits for the pump to exit.
func (t *serialTransfer) Stop() error {
	t.cancel()
	<-t.done
	t.chunkQueue.Stop()

	if len(t.dev.cfg.StopCommand) > 0 {
		if _, err := t.dev.port.Write(t.dev.cfg.StopCommand); err != nil {
			return fmt.Errorf("write stop command: %w", err)
		}
	}
	return nil
}
