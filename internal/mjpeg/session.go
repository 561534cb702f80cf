package mjpeg

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/camstream/internal/capture"
	"github.com/banshee-data/camstream/internal/monitoring"
	"github.com/banshee-data/camstream/internal/timeutil"
)

// SessionState identifies where a streaming session is in its lifecycle.
type SessionState int

const (
	// StateIdle is the state before the response head is written and
	// again after the session has fully closed.
	StateIdle SessionState = iota
	// StateHeaderSent means the multipart preamble has been written.
	StateHeaderSent
	// StateStreaming means the burst cycle is running and frames flow.
	StateStreaming
	// StateClosing means the session is tearing down: the live burst is
	// stopped and the summary is finalised.
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeaderSent:
		return "header_sent"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Pipeline selects how frames travel from the burst cycle to the client
// socket.
type Pipeline string

const (
	// PipelineDirect runs capture, assembly, and delivery on one
	// goroutine. A slow client stalls consumption, which is the natural
	// backpressure.
	PipelineDirect Pipeline = "direct"
	// PipelineQueued decouples capture from delivery with a bounded
	// frame event queue, at the cost of one copy per frame.
	PipelineQueued Pipeline = "queued"
)

// Session close reasons recorded on the summary and in the journal.
const (
	CloseClientGone     = "client_gone"
	CloseWriteStalled   = "write_stalled"
	CloseCaptureFailed  = "capture_failed"
	CloseCanceled       = "canceled"
	CloseServerShutdown = "server_shutdown"
)

// DefaultInterBurstDelay is the pause between stopping one burst and
// beginning the next, long enough to let the sensor settle without
// holding the handle idle.
const DefaultInterBurstDelay = 10 * time.Millisecond

// DefaultQueueDepth is the frame event queue capacity for the queued
// pipeline.
const DefaultQueueDepth = 5

// Options configures a streaming session.
type Options struct {
	// RemoteAddr identifies the client in logs and the journal.
	RemoteAddr string

	// Pipeline selects direct or queued delivery (default direct).
	Pipeline Pipeline

	// QueueDepth is the event queue capacity for the queued pipeline
	// (default DefaultQueueDepth).
	QueueDepth int

	// InterBurstDelay is the pause between bursts
	// (default DefaultInterBurstDelay; negative disables the pause).
	InterBurstDelay time.Duration

	// FPSWindow is the minimum interval between throughput log lines
	// (default 1s).
	FPSWindow time.Duration

	// Clock drives the throughput window and inter-burst delay
	// (default real time).
	Clock timeutil.Clock

	// Stats receives counter updates when non-nil.
	Stats *StreamStats
}

// Summary describes one finished session.
type Summary struct {
	ID          string
	RemoteAddr  string
	Pipeline    Pipeline
	StartedAt   time.Time
	EndedAt     time.Time
	Frames      uint64
	Bytes       int64
	Overflows   uint64
	CloseReason string
}

// Session streams MJPEG to a single client. It owns the capture handle
// for its lifetime: bursts are begun and stopped in a cycle, completed
// frames are written as multipart parts, and on every exit path any
// live burst is stopped so the handle comes back ready for the next
// acquirer. The caller retains ownership of the handle cell and the
// client socket.
type Session struct {
	id     string
	handle *capture.Handle
	sw     *StreamWriter
	asm    *Assembler
	clock  timeutil.Clock
	opts   Options

	state   SessionState
	summary Summary
}

// NewSession prepares a session that will stream to w using the given
// capture handle. Run does the work.
func NewSession(h *capture.Handle, w io.Writer, opts Options) *Session {
	if opts.Pipeline == "" {
		opts.Pipeline = PipelineDirect
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.InterBurstDelay == 0 {
		opts.InterBurstDelay = DefaultInterBurstDelay
	}
	if opts.FPSWindow <= 0 {
		opts.FPSWindow = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	id := uuid.New().String()
	return &Session{
		id:     id,
		handle: h,
		sw:     NewStreamWriter(w),
		clock:  opts.Clock,
		opts:   opts,
		state:  StateIdle,
		summary: Summary{
			ID:         id,
			RemoteAddr: opts.RemoteAddr,
			Pipeline:   opts.Pipeline,
		},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state. It is only meaningful
// before Run starts or after it returns.
func (s *Session) State() SessionState { return s.state }

func (s *Session) setState(state SessionState) {
	debugf("session %s: %s -> %s", s.id, s.state, state)
	s.state = state
}

// Run streams until the client goes away, the camera fails, or ctx is
// canceled. It always returns with the handle recovered from any live
// burst and a close reason recorded on the summary.
func (s *Session) Run(ctx context.Context) Summary {
	s.summary.StartedAt = s.clock.Now()
	if s.opts.Stats != nil {
		s.opts.Stats.SessionStarted()
	}
	monitoring.Logf("[Session] %s started: pipeline=%s remote=%s", s.id, s.opts.Pipeline, s.opts.RemoteAddr)

	s.setState(StateHeaderSent)
	var reason string
	if err := s.sw.WritePreamble(); err != nil {
		reason = classifyWriteError(err)
	} else {
		s.setState(StateStreaming)
		if s.opts.Pipeline == PipelineQueued {
			reason = s.runQueued(ctx)
		} else {
			s.asm = NewAssembler(AssemblerConfig{
				Buf:     s.handle.Scratch(),
				OnFrame: s.sw.WriteFrame,
			})
			reason = s.burstLoop(ctx, s.asm)
		}
	}

	s.close(reason)
	return s.summary
}

// burstLoop cycles camera bursts and feeds every chunk to asm until a
// fatal condition ends the session. It returns the close reason, always
// with the current burst stopped and the handle recovered.
func (s *Session) burstLoop(ctx context.Context, asm *Assembler) string {
	lastMark := s.clock.Now()
	var lastMarkFrames uint64
	var prevFrames, prevOverflows uint64

	for {
		if ctx.Err() != nil {
			return CloseCanceled
		}

		burst, err := s.handle.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil || isCanceled(err) {
				return CloseCanceled
			}
			monitoring.Logf("[Session] %s: begin burst failed: %v", s.id, err)
			return CloseCaptureFailed
		}

		var burstBytes int
		var sinkErr error
		for {
			data, ended := burst.Peek()
			if len(data) > 0 {
				if err := asm.ProcessChunk(data); err != nil {
					sinkErr = err
					break
				}
				burst.Consume(len(data))
				burstBytes += len(data)
			}
			if ended {
				break
			}
		}
		devErr := burst.Err()
		s.handle = burst.Stop()

		if sinkErr != nil {
			if isCanceled(sinkErr) {
				return CloseCanceled
			}
			monitoring.Logf("[Session] %s: frame delivery failed: %v", s.id, sinkErr)
			return classifyWriteError(sinkErr)
		}
		if devErr != nil {
			if ctx.Err() != nil || isCanceled(devErr) {
				return CloseCanceled
			}
			monitoring.Logf("[Session] %s: burst receive failed: %v", s.id, devErr)
			return CloseCaptureFailed
		}

		if burstBytes == 0 {
			monitoring.Logf("[Session] %s: burst returned no data, consumer may be too slow", s.id)
			if s.opts.Stats != nil {
				s.opts.Stats.AddEmptyBurst()
			}
		}

		frames, overflows := asm.Frames(), asm.Overflows()
		if s.opts.Stats != nil {
			s.opts.Stats.AddBurst(burstBytes)
			s.opts.Stats.AddFrames(int64(frames - prevFrames))
			s.opts.Stats.AddOverflows(int64(overflows - prevOverflows))
		}
		prevFrames, prevOverflows = frames, overflows

		if window := s.clock.Since(lastMark); window >= s.opts.FPSWindow {
			fps := float64(frames-lastMarkFrames) / window.Seconds()
			monitoring.Logf("[Session] %s: %.1f frames/s (%s frames total)",
				s.id, fps, FormatWithCommas(int64(frames)))
			lastMark = s.clock.Now()
			lastMarkFrames = frames
		}

		if d := s.opts.InterBurstDelay; d > 0 {
			select {
			case <-ctx.Done():
				return CloseCanceled
			case <-s.clock.After(d):
			}
		}
	}
}

// close finalises the summary and logs it. The burst cycle has already
// stopped by the time this runs.
func (s *Session) close(reason string) {
	s.setState(StateClosing)

	s.summary.EndedAt = s.clock.Now()
	s.summary.CloseReason = reason
	if s.asm != nil {
		s.summary.Frames = s.asm.Frames()
		s.summary.Overflows = s.asm.Overflows()
	}
	s.summary.Bytes = s.sw.Bytes()

	if s.opts.Stats != nil {
		s.opts.Stats.SessionEnded()
	}
	monitoring.Logf("[Session] %s closed: reason=%s frames=%d bytes=%d overflows=%d duration=%s",
		s.id, reason, s.summary.Frames, s.summary.Bytes, s.summary.Overflows,
		s.summary.EndedAt.Sub(s.summary.StartedAt).Round(time.Millisecond))

	s.setState(StateIdle)
}

// classifyWriteError maps a transport error to a close reason. A stall
// is reported distinctly; everything else means the client went away.
func classifyWriteError(err error) string {
	if errors.Is(err, ErrNoProgress) {
		return CloseWriteStalled
	}
	return CloseClientGone
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
