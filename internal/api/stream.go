package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/camstream/internal/httputil"
	"github.com/banshee-data/camstream/internal/mjpeg"
	"github.com/banshee-data/camstream/internal/monitoring"
	"github.com/banshee-data/camstream/internal/sessionlog"
)

// snapshotTimeout bounds how long /snapshot cycles bursts waiting for a
// complete frame.
const snapshotTimeout = 5 * time.Second

// handleStream serves the live MJPEG stream. The camera supports one
// consumer, so a second client gets 503 until the first disconnects. The
// connection is hijacked: from the preamble on, the session owns the
// socket, status line included.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	pipeline := s.pipeline
	if q := r.URL.Query().Get("pipeline"); q != "" {
		switch mjpeg.Pipeline(q) {
		case mjpeg.PipelineDirect, mjpeg.PipelineQueued:
			pipeline = mjpeg.Pipeline(q)
		default:
			httputil.BadRequest(w, fmt.Sprintf("unknown pipeline %q", q))
			return
		}
	}

	h, err := s.cell.TryAcquire()
	if err != nil {
		monitoring.Logf("[API] stream rejected for %s: camera busy", r.RemoteAddr)
		httputil.ServiceUnavailable(w, "camera is busy with another client")
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		s.cell.Release(h)
		httputil.InternalServerError(w, "connection does not support streaming")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		s.cell.Release(h)
		httputil.InternalServerError(w, fmt.Sprintf("failed to take over connection: %v", err))
		return
	}
	defer conn.Close()
	defer s.cell.Release(h)

	sess := mjpeg.NewSession(h, conn, mjpeg.Options{
		RemoteAddr:      r.RemoteAddr,
		Pipeline:        pipeline,
		QueueDepth:      s.tuning.GetQueueDepth(),
		InterBurstDelay: s.tuning.GetInterBurstDelay(),
		FPSWindow:       s.tuning.GetFPSWindow(),
		Stats:           s.stats,
	})

	summary := sess.Run(s.baseCtx)

	// The session reports a plain cancel; only this layer knows whether
	// the whole process was going down.
	if summary.CloseReason == mjpeg.CloseCanceled && s.baseCtx.Err() != nil {
		summary.CloseReason = mjpeg.CloseServerShutdown
	}
	s.journalSummary(summary)
}

func (s *Server) journalSummary(summary mjpeg.Summary) {
	if s.journal == nil {
		return
	}
	rec := sessionlog.SessionRecord{
		SessionID:   summary.ID,
		RemoteAddr:  summary.RemoteAddr,
		Pipeline:    string(summary.Pipeline),
		StartedAt:   summary.StartedAt,
		EndedAt:     summary.EndedAt,
		Frames:      int64(summary.Frames),
		Bytes:       summary.Bytes,
		Overflows:   int64(summary.Overflows),
		CloseReason: summary.CloseReason,
	}
	if err := s.journal.RecordSession(rec); err != nil {
		monitoring.Logf("[API] failed to journal session %s: %v", summary.ID, err)
	}
}

// handleSnapshot grabs a single complete frame and returns it as a plain
// JPEG response. Shares the exclusive cell with /stream.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	h, err := s.cell.TryAcquire()
	if err != nil {
		httputil.ServiceUnavailable(w, "camera is busy with another client")
		return
	}
	defer s.cell.Release(h)

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	frame, err := mjpeg.Snapshot(ctx, h)
	if err != nil {
		monitoring.Logf("[API] snapshot failed: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("snapshot failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(frame)
}
