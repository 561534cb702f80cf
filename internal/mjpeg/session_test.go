package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/camstream/internal/capture"
	"github.com/banshee-data/camstream/internal/monitoring"
	"github.com/banshee-data/camstream/internal/testutil"
	"github.com/banshee-data/camstream/internal/timeutil"
)

// logCapture collects monitoring output so tests can assert on warning
// and summary lines written from the session goroutine.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (lc *logCapture) logf(format string, v ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lines = append(lc.lines, fmt.Sprintf(format, v...))
}

func (lc *logCapture) matching(substr string) []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	var out []string
	for _, line := range lc.lines {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	lc := &logCapture{}
	monitoring.SetLogger(lc.logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return lc
}

// breakAfterWriter accepts allow Write calls and then fails every
// subsequent call.
type breakAfterWriter struct {
	buf   bytes.Buffer
	allow int
	err   error
}

func (w *breakAfterWriter) Write(p []byte) (int, error) {
	if w.allow <= 0 {
		return 0, w.err
	}
	w.allow--
	return w.buf.Write(p)
}

// cancelAfterWriter cancels a context once the given number of Write
// calls has landed, simulating a shutdown arriving mid-frame.
type cancelAfterWriter struct {
	buf    bytes.Buffer
	cancel context.CancelFunc
	after  int
	calls  int
}

func (w *cancelAfterWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls == w.after {
		w.cancel()
	}
	return w.buf.Write(p)
}

func frameBurst(frame []byte, chunkSize int) capture.ScriptedBurst {
	return capture.ScriptedBurst{Chunks: testutil.Chunks(frame, chunkSize)}
}

// streamReference renders the exact multipart bytes a session should
// produce for the given frames.
func streamReference(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf)
	if err := sw.WritePreamble(); err != nil {
		t.Fatalf("reference preamble: %v", err)
	}
	for _, f := range frames {
		if err := sw.WriteFrame(f); err != nil {
			t.Fatalf("reference frame: %v", err)
		}
	}
	return buf.String()
}

func TestSession_StreamsScriptedFrames(t *testing.T) {
	captureLogs(t)

	first := testutil.JPEGFrame(0x01, 0x02, 0x03)
	second := testutil.JPEGFrame(0x04)
	dev := capture.NewScriptedDevice(
		frameBurst(first, 3),
		frameBurst(second, 2),
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	stats := NewStreamStats()
	s := NewSession(h, &out, Options{
		RemoteAddr:      "192.0.2.1:5000",
		InterBurstDelay: -1,
		Stats:           stats,
	})

	sum := s.Run(context.Background())

	if sum.CloseReason != CloseCaptureFailed {
		t.Errorf("close reason = %q, want %q after the script runs out", sum.CloseReason, CloseCaptureFailed)
	}
	if sum.Frames != 2 {
		t.Errorf("summary frames = %d, want 2", sum.Frames)
	}
	if sum.Bytes != int64(len(first)+len(second)) {
		t.Errorf("summary bytes = %d, want %d", sum.Bytes, len(first)+len(second))
	}
	if sum.ID == "" || sum.RemoteAddr != "192.0.2.1:5000" || sum.Pipeline != PipelineDirect {
		t.Errorf("summary identity wrong: %+v", sum)
	}
	if sum.EndedAt.Before(sum.StartedAt) {
		t.Errorf("EndedAt %v before StartedAt %v", sum.EndedAt, sum.StartedAt)
	}

	if want := streamReference(t, first, second); out.String() != want {
		t.Errorf("stream output mismatch:\ngot  %q\nwant %q", out.String(), want)
	}

	if s.State() != StateIdle {
		t.Errorf("state = %v after Run, want idle", s.State())
	}

	snap := stats.Snapshot()
	if snap.Sessions != 1 || snap.Active || snap.Frames != 2 || snap.Bursts != 2 {
		t.Errorf("stats snapshot = %+v", snap)
	}

	// The handle must come back without a live burst.
	if _, err := h.Begin(context.Background()); errors.Is(err, capture.ErrBurstActive) {
		t.Error("handle left with a live burst")
	}
}

// Parser state persists across burst boundaries: a frame split over
// several bursts still comes out whole.
func TestSession_FrameSpanningBursts(t *testing.T) {
	captureLogs(t)

	frame := testutil.JPEGFrame(0x10, 0x20, 0x30, 0x40)
	dev := capture.NewScriptedDevice(
		capture.ScriptedBurst{Chunks: [][]byte{frame[:3]}},
		capture.ScriptedBurst{Chunks: [][]byte{frame[3:5]}},
		capture.ScriptedBurst{Chunks: [][]byte{frame[5:]}},
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	s := NewSession(h, &out, Options{InterBurstDelay: -1})

	sum := s.Run(context.Background())

	if sum.Frames != 1 {
		t.Errorf("summary frames = %d, want 1", sum.Frames)
	}
	if want := streamReference(t, frame); out.String() != want {
		t.Errorf("stream output mismatch:\ngot  %q\nwant %q", out.String(), want)
	}
}

func TestSession_WriteFailureStopsDelivery(t *testing.T) {
	captureLogs(t)

	frame := testutil.JPEGFrame(0x0A)
	dev := capture.NewScriptedDevice(
		frameBurst(frame, 8),
		frameBurst(frame, 8),
		frameBurst(frame, 8),
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	// Allow the preamble and the first frame's three writes, then fail.
	w := &breakAfterWriter{allow: 4, err: fmt.Errorf("broken pipe")}
	s := NewSession(h, w, Options{InterBurstDelay: -1})

	sum := s.Run(context.Background())

	if sum.CloseReason != CloseClientGone {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseClientGone)
	}
	if sum.Bytes != int64(len(frame)) {
		t.Errorf("summary bytes = %d, want %d: nothing may be written after the failure", sum.Bytes, len(frame))
	}
	if want := streamReference(t, frame); w.buf.String() != want {
		t.Errorf("output after failure mismatch:\ngot  %q\nwant %q", w.buf.String(), want)
	}

	if _, err := h.Begin(context.Background()); errors.Is(err, capture.ErrBurstActive) {
		t.Error("handle left with a live burst")
	}
}

func TestSession_ZeroProgressWriteStalls(t *testing.T) {
	captureLogs(t)

	dev := capture.NewScriptedDevice(frameBurst(testutil.JPEGFrame(0x01), 8))
	h := capture.NewHandle(dev, capture.HandleOptions{})

	// Accept the preamble, then stall on the first part.
	w := &stallWriter{remaining: len(Preamble)}
	s := NewSession(h, w, Options{InterBurstDelay: -1})

	sum := s.Run(context.Background())
	if sum.CloseReason != CloseWriteStalled {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseWriteStalled)
	}
}

func TestSession_BeginFailureClosesSession(t *testing.T) {
	lc := captureLogs(t)

	dev := capture.NewScriptedDevice(frameBurst(testutil.JPEGFrame(0x01), 8))
	dev.BeginErr = fmt.Errorf("bus stuck")
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	s := NewSession(h, &out, Options{InterBurstDelay: -1})

	sum := s.Run(context.Background())

	if sum.CloseReason != CloseCaptureFailed {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseCaptureFailed)
	}
	if sum.Frames != 0 {
		t.Errorf("summary frames = %d, want 0", sum.Frames)
	}
	// The preamble goes out before the first burst, so the client saw
	// the response head even though no frame ever arrived.
	if out.String() != Preamble {
		t.Errorf("output = %q, want bare preamble", out.String())
	}
	if len(lc.matching("begin burst failed")) != 1 {
		t.Errorf("expected one begin-failure log, got %q", lc.lines)
	}

	// The handle is immediately usable for the next session; the scripted
	// burst is still there.
	b, err := h.Begin(context.Background())
	if err != nil {
		t.Fatalf("handle unusable after failed session: %v", err)
	}
	b.Stop()
}

func TestSession_MidBurstDeviceErrorClosesSession(t *testing.T) {
	captureLogs(t)

	frame := testutil.JPEGFrame(0x01)
	dev := capture.NewScriptedDevice(
		frameBurst(frame, 8),
		capture.ScriptedBurst{Chunks: [][]byte{{0xFF, 0xD8, 0xAA}}, Err: fmt.Errorf("receive aborted")},
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	s := NewSession(h, &out, Options{InterBurstDelay: -1})

	sum := s.Run(context.Background())

	if sum.CloseReason != CloseCaptureFailed {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseCaptureFailed)
	}
	// The frame delivered before the failure still went out.
	if sum.Frames != 1 {
		t.Errorf("summary frames = %d, want 1", sum.Frames)
	}
	if _, err := h.Begin(context.Background()); errors.Is(err, capture.ErrBurstActive) {
		t.Error("handle left with a live burst")
	}
}

func TestSession_EmptyBurstWarnsAndContinues(t *testing.T) {
	lc := captureLogs(t)

	dev := capture.NewScriptedDevice(
		capture.ScriptedBurst{}, // sensor drained before we peeked
		frameBurst(testutil.JPEGFrame(0x22), 4),
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	stats := NewStreamStats()
	s := NewSession(h, &out, Options{InterBurstDelay: -1, Stats: stats})

	sum := s.Run(context.Background())

	if len(lc.matching("no data")) != 1 {
		t.Errorf("expected one slow-consumer warning, got %q", lc.lines)
	}
	// The empty burst is not fatal: the next burst's frame still streams.
	if sum.Frames != 1 {
		t.Errorf("summary frames = %d, want 1", sum.Frames)
	}
	if snap := stats.Snapshot(); snap.EmptyBursts != 1 {
		t.Errorf("empty bursts = %d, want 1", snap.EmptyBursts)
	}
}

func TestSession_CanceledBeforeStreaming(t *testing.T) {
	captureLogs(t)

	dev := capture.NewScriptedDevice(frameBurst(testutil.JPEGFrame(0x01), 8))
	h := capture.NewHandle(dev, capture.HandleOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	s := NewSession(h, &out, Options{InterBurstDelay: -1})

	sum := s.Run(ctx)
	if sum.CloseReason != CloseCanceled {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseCanceled)
	}
	if sum.Frames != 0 {
		t.Errorf("summary frames = %d, want 0", sum.Frames)
	}
}

func TestSession_CanceledMidStream(t *testing.T) {
	captureLogs(t)

	dev := capture.NewScriptedDevice(frameBurst(testutil.JPEGFrame(0x01), 8))
	dev.Repeat = true
	h := capture.NewHandle(dev, capture.HandleOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel lands during the first frame's trailing CRLF write; the
	// session notices before beginning the next burst.
	w := &cancelAfterWriter{cancel: cancel, after: 4}
	s := NewSession(h, w, Options{InterBurstDelay: -1})

	sum := s.Run(ctx)

	if sum.CloseReason != CloseCanceled {
		t.Errorf("close reason = %q, want %q", sum.CloseReason, CloseCanceled)
	}
	if sum.Frames != 1 {
		t.Errorf("summary frames = %d, want 1", sum.Frames)
	}
	if _, err := h.Begin(context.Background()); errors.Is(err, capture.ErrBurstActive) {
		t.Error("handle left with a live burst")
	}
}

func TestSession_ThroughputWindowLogging(t *testing.T) {
	lc := captureLogs(t)

	clock := timeutil.NewMockClock(time.Unix(100, 0))
	frame := testutil.JPEGFrame(0x33)
	dev := capture.NewScriptedDevice(
		frameBurst(frame, 8),
		frameBurst(frame, 8),
		frameBurst(frame, 8),
	)
	h := capture.NewHandle(dev, capture.HandleOptions{})

	var out bytes.Buffer
	s := NewSession(h, &out, Options{
		Clock:           clock,
		InterBurstDelay: 500 * time.Millisecond,
		FPSWindow:       time.Second,
	})

	done := make(chan Summary, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Walk the clock through the three inter-burst delays. The throughput
	// line may only appear once a full second has accumulated.
	for i := 0; i < 3; i++ {
		waitFor(t, func() bool { return clock.Waiters() > 0 })
		clock.Advance(500 * time.Millisecond)
	}
	sum := <-done

	if sum.CloseReason != CloseCaptureFailed {
		t.Fatalf("close reason = %q, want %q", sum.CloseReason, CloseCaptureFailed)
	}

	rateLines := lc.matching("frames/s")
	if len(rateLines) != 1 {
		t.Fatalf("got %d throughput lines, want 1: %q", len(rateLines), rateLines)
	}
	// Three frames over the 1s window that closed after the third burst.
	if !strings.Contains(rateLines[0], "3.0 frames/s") {
		t.Errorf("throughput line = %q, want 3.0 frames/s", rateLines[0])
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateHeaderSent, "header_sent"},
		{StateStreaming, "streaming"},
		{StateClosing, "closing"},
		{SessionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
