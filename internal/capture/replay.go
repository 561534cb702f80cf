package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Burst log fixture format: a magic line followed by records. 'C' records
// carry one chunk (uint32 big-endian length + payload), 'E' marks the end
// of a burst. Chunk boundaries are part of the recording: replay hands
// out exactly the pieces the original device produced.
const burstLogMagic = "BLOG1\n"

// BurstLogWriter writes the fixture format consumed by ReplayDevice.
type BurstLogWriter struct {
	w io.Writer
}

// NewBurstLogWriter writes the format magic and returns the writer.
func NewBurstLogWriter(w io.Writer) (*BurstLogWriter, error) {
	if _, err := io.WriteString(w, burstLogMagic); err != nil {
		return nil, err
	}
	return &BurstLogWriter{w: w}, nil
}

// Chunk records one chunk of burst data.
func (b *BurstLogWriter) Chunk(p []byte) error {
	var hdr [5]byte
	hdr[0] = 'C'
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(p)))
	if _, err := b.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := b.w.Write(p)
	return err
}

// EndBurst records a burst boundary.
func (b *BurstLogWriter) EndBurst() error {
	_, err := b.w.Write([]byte{'E'})
	return err
}

// parseBurstLog reads a whole fixture into memory as bursts of chunks.
func parseBurstLog(r io.Reader) ([][][]byte, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(burstLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != burstLogMagic {
		return nil, fmt.Errorf("not a burst log (magic %q)", magic)
	}

	var bursts [][][]byte
	var current [][]byte
	for {
		tag, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tag {
		case 'C':
			var lenBuf [4]byte
			if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
				return nil, fmt.Errorf("read chunk length: %w", err)
			}
			n := binary.BigEndian.Uint32(lenBuf[:])
			chunk := make([]byte, n)
			if _, err := io.ReadFull(br, chunk); err != nil {
				return nil, fmt.Errorf("read chunk payload: %w", err)
			}
			current = append(current, chunk)
		case 'E':
			bursts = append(bursts, current)
			current = nil
		default:
			return nil, fmt.Errorf("unknown record tag %q", tag)
		}
	}
	if len(current) > 0 {
		// Trailing chunks without an end marker still form a burst.
		bursts = append(bursts, current)
	}
	if len(bursts) == 0 {
		return nil, fmt.Errorf("burst log contains no bursts")
	}
	return bursts, nil
}

// ReplayConfig configures a ReplayDevice.
type ReplayConfig struct {
	// Path is the burst log fixture to replay.
	Path string

	// Loop restarts the fixture from the beginning when exhausted.
	// Without it, BeginBurst fails once all recorded bursts have played.
	Loop bool

	// ChunkDelay paces replay by sleeping between chunks. Zero replays
	// as fast as the consumer reads.
	ChunkDelay time.Duration
}

// ReplayDevice replays a recorded burst log, preserving the recorded
// chunk and burst boundaries. It backs dev mode when no camera hardware
// is attached.
type ReplayDevice struct {
	cfg    ReplayConfig
	bursts [][][]byte

	mu   sync.Mutex
	next int
}

// NewReplayDevice loads the fixture at cfg.Path.
func NewReplayDevice(cfg ReplayConfig) (*ReplayDevice, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bursts, err := parseBurstLog(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.Path, err)
	}
	return &ReplayDevice{cfg: cfg, bursts: bursts}, nil
}

// Kind implements Device.
func (d *ReplayDevice) Kind() string { return "replay" }

// BeginBurst serves the next recorded burst.
func (d *ReplayDevice) BeginBurst(ctx context.Context) (Transfer, error) {
	d.mu.Lock()
	if d.next >= len(d.bursts) {
		if !d.cfg.Loop {
			d.mu.Unlock()
			return nil, fmt.Errorf("burst log exhausted after %d bursts", len(d.bursts))
		}
		d.next = 0
	}
	burst := d.bursts[d.next]
	d.next++
	d.mu.Unlock()

	t := &replayTransfer{
		chunkQueue: newChunkQueue(),
		done:       make(chan struct{}),
	}
	if d.cfg.ChunkDelay > 0 {
		pctx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		go d.pump(pctx, t, burst)
		return t, nil
	}

	// Without pacing the whole burst is loaded up front, so the final
	// chunk arrives already marked as the end of the burst.
	for _, chunk := range burst {
		t.chunkQueue.push(chunk)
	}
	t.chunkQueue.finish(nil)
	close(t.done)
	return t, nil
}

func (d *ReplayDevice) pump(ctx context.Context, t *replayTransfer, burst [][]byte) {
	defer close(t.done)

	for _, chunk := range burst {
		select {
		case <-time.After(d.cfg.ChunkDelay):
		case <-ctx.Done():
			t.chunkQueue.finish(ctx.Err())
			return
		}
		t.chunkQueue.push(chunk)
	}
	t.chunkQueue.finish(nil)
}

// Close implements Device.
func (d *ReplayDevice) Close() error { return nil }

type replayTransfer struct {
	*chunkQueue
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop discards the rest of the recorded burst.
func (t *replayTransfer) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
	return t.chunkQueue.Stop()
}
