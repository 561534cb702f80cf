package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/banshee-data/camstream/internal/monitoring"
)

// ExecConfig configures an ExecDevice.
type ExecConfig struct {
	// Command and Args name the capture process, e.g. rpicam-vid with
	// --codec mjpeg writing to stdout.
	Command string
	Args    []string

	// BurstWindow is how much wall time one burst spans on the stdout
	// stream. Defaults to 100ms.
	BurstWindow time.Duration

	// ChunkSize is the read buffer size. Defaults to 4096.
	ChunkSize int
}

// ExecDevice runs a capture subprocess and serves slices of its stdout
// as bursts. The process starts once and runs for the device lifetime;
// bursts are fixed windows on the pipe.
type ExecDevice struct {
	cfg    ExecConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// NewExecDevice starts the capture process.
func NewExecDevice(cfg ExecConfig) (*ExecDevice, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("exec device: command is required")
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 100 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	monitoring.Logf("[Capture] started %s (pid %d)", cfg.Command, cmd.Process.Pid)

	// Surface the capture process diagnostics in our own log.
	go func() {
		scan := bufio.NewScanner(stderr)
		for scan.Scan() {
			monitoring.Logf("[Capture] %s: %s", cfg.Command, scan.Text())
		}
	}()

	return &ExecDevice{cfg: cfg, cmd: cmd, stdout: stdout}, nil
}

// Kind implements Device.
func (d *ExecDevice) Kind() string { return "exec" }

// BeginBurst starts a window on the process stdout.
func (d *ExecDevice) BeginBurst(ctx context.Context) (Transfer, error) {
	ctx, cancel := context.WithCancel(ctx)
	t := &execTransfer{
		chunkQueue: newChunkQueue(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go d.pump(ctx, t)
	return t, nil
}

func (d *ExecDevice) pump(ctx context.Context, t *execTransfer) {
	defer close(t.done)

	buf := make([]byte, d.cfg.ChunkSize)
	start := time.Now()
	for {
		if ctx.Err() != nil {
			t.chunkQueue.finish(ctx.Err())
			return
		}

		n, err := d.stdout.Read(buf)
		if n > 0 {
			t.chunkQueue.push(buf[:n])
		}
		if err != nil {
			t.chunkQueue.finish(fmt.Errorf("capture process output: %w", err))
			return
		}
		if time.Since(start) >= d.cfg.BurstWindow {
			t.chunkQueue.finish(nil)
			return
		}
	}
}

// Close kills the capture process and reaps it.
func (d *ExecDevice) Close() error {
	if d.cmd.Process != nil {
		if err := d.cmd.Process.Kill(); err != nil {
			monitoring.Logf("[Capture] kill %s: %v", d.cfg.Command, err)
		}
	}
	d.stdout.Close()
	// Wait returns the kill signal as an error; the process is gone
	// either way.
	_ = d.cmd.Wait()
	return nil
}

type execTransfer struct {
	*chunkQueue
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop ends the window and waits for the pump to exit. A stalled capture
// process can leave the pump blocked in Read; in that case the pump
// drains itself on the next read return, so the wait is bounded.
func (t *execTransfer) Stop() error {
	t.cancel()
	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
	}
	return t.chunkQueue.Stop()
}
