package mjpeg

import (
	"context"

	"github.com/banshee-data/camstream/internal/monitoring"
)

// FrameEventKind tags events on the queued pipeline's channel.
type FrameEventKind int

const (
	// FrameStart announces that a completed frame follows.
	FrameStart FrameEventKind = iota
	// FrameData carries the frame bytes, copied out of the assembly
	// buffer so the capture side can keep scanning.
	FrameData
	// FrameEnd closes the frame.
	FrameEnd
)

func (k FrameEventKind) String() string {
	switch k {
	case FrameStart:
		return "frame_start"
	case FrameData:
		return "frame_data"
	case FrameEnd:
		return "frame_end"
	default:
		return "unknown"
	}
}

// FrameEvent is one message from the capture goroutine to the delivery
// goroutine. Data is set only for FrameData.
type FrameEvent struct {
	Kind FrameEventKind
	Data []byte
}

// eventSink adapts the assembler's frame callback to the bounded event
// queue. A full queue blocks the capture side until delivery drains it;
// cancellation unblocks the send so teardown never deadlocks.
type eventSink struct {
	ctx    context.Context
	events chan<- FrameEvent
}

func (q *eventSink) frameCompleted(frame []byte) error {
	if err := q.send(FrameEvent{Kind: FrameStart}); err != nil {
		return err
	}
	data := make([]byte, len(frame))
	copy(data, frame)
	if err := q.send(FrameEvent{Kind: FrameData, Data: data}); err != nil {
		return err
	}
	return q.send(FrameEvent{Kind: FrameEnd})
}

func (q *eventSink) send(ev FrameEvent) error {
	select {
	case q.events <- ev:
		return nil
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

// runQueued runs the pipelined delivery variant: a capture goroutine
// cycles bursts and assembles frames into tagged events on a bounded
// queue, while this goroutine drains the queue and writes parts. Either
// side failing cancels the other; the capture goroutine always stops
// its burst before closing the queue.
func (s *Session) runQueued(parent context.Context) string {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	events := make(chan FrameEvent, s.opts.QueueDepth)
	sink := &eventSink{ctx: ctx, events: events}
	s.asm = NewAssembler(AssemblerConfig{
		Buf:     s.handle.Scratch(),
		OnFrame: sink.frameCompleted,
	})

	var captureReason string
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		defer close(events)
		captureReason = s.burstLoop(ctx, s.asm)
	}()

	var deliverReason string
	for ev := range events {
		if deliverReason != "" {
			continue // drain so the capture side can finish
		}
		switch ev.Kind {
		case FrameData:
			if err := s.sw.WriteFrame(ev.Data); err != nil {
				monitoring.Logf("[Session] %s: frame delivery failed: %v", s.id, err)
				deliverReason = classifyWriteError(err)
				cancel()
			}
		default:
			debugf("session %s: %s", s.id, ev.Kind)
		}
	}
	<-captureDone

	if deliverReason != "" {
		return deliverReason
	}
	return captureReason
}
