package mjpeg

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/camstream/internal/capture"
)

// errSnapshotDone halts chunk processing once the first frame lands.
var errSnapshotDone = errors.New("snapshot complete")

// snapshotBurstLimit bounds how many bursts a snapshot will cycle while
// waiting for a complete frame before giving up.
const snapshotBurstLimit = 16

// Snapshot cycles bursts on the handle until one complete JPEG frame
// assembles, then stops the burst and returns a copy of the frame. The
// handle comes back ready for the next acquirer on every path.
func Snapshot(ctx context.Context, h *capture.Handle) ([]byte, error) {
	var frame []byte
	asm := NewAssembler(AssemblerConfig{
		Buf: h.Scratch(),
		OnFrame: func(f []byte) error {
			frame = make([]byte, len(f))
			copy(frame, f)
			return errSnapshotDone
		},
	})

	for i := 0; i < snapshotBurstLimit; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		burst, err := h.Begin(ctx)
		if err != nil {
			return nil, err
		}

		var procErr error
		for {
			data, ended := burst.Peek()
			if len(data) > 0 {
				if err := asm.ProcessChunk(data); err != nil {
					procErr = err
					break
				}
				burst.Consume(len(data))
			}
			if ended {
				break
			}
		}
		devErr := burst.Err()
		h = burst.Stop()

		if procErr != nil {
			if errors.Is(procErr, errSnapshotDone) {
				debugf("snapshot assembled after %d bursts: %d bytes", i+1, len(frame))
				return frame, nil
			}
			return nil, procErr
		}
		if devErr != nil {
			return nil, fmt.Errorf("snapshot receive: %w", devErr)
		}
	}

	return nil, fmt.Errorf("no complete frame within %d bursts", snapshotBurstLimit)
}
