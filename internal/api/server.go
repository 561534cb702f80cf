// Package api serves the public HTTP surface: the live MJPEG stream, still
// snapshots, the camera page, and the JSON status endpoints. Exclusive
// camera access goes through the capture cell; everything else is read-only.
package api

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/camstream/internal/capture"
	"github.com/banshee-data/camstream/internal/config"
	"github.com/banshee-data/camstream/internal/httputil"
	"github.com/banshee-data/camstream/internal/mjpeg"
	"github.com/banshee-data/camstream/internal/sessionlog"
	"github.com/banshee-data/camstream/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Config carries the server's collaborators. Cell and Handle refer to the
// same device: the cell hands out exclusive use, the handle is kept for
// read-only info (kind, counters).
type Config struct {
	Cell   *capture.Cell
	Handle *capture.Handle

	// Journal records finished sessions when non-nil.
	Journal *sessionlog.DB

	// Stats aggregates streaming counters (a fresh one is created when nil).
	Stats *mjpeg.StreamStats

	// Tuning supplies stream parameters (defaults when nil).
	Tuning *config.StreamTuning

	// Pipeline is the delivery pipeline used when the client does not ask
	// for one (default direct).
	Pipeline mjpeg.Pipeline

	// ShutdownCtx ends live streams when the process is shutting down.
	ShutdownCtx context.Context
}

type Server struct {
	cell     *capture.Cell
	handle   *capture.Handle
	journal  *sessionlog.DB
	stats    *mjpeg.StreamStats
	tuning   *config.StreamTuning
	pipeline mjpeg.Pipeline
	baseCtx  context.Context
	started  time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.Stats == nil {
		cfg.Stats = mjpeg.NewStreamStats()
	}
	if cfg.Tuning == nil {
		cfg.Tuning = config.EmptyStreamTuning()
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = mjpeg.PipelineDirect
	}
	if cfg.ShutdownCtx == nil {
		cfg.ShutdownCtx = context.Background()
	}
	return &Server{
		cell:     cfg.Cell,
		handle:   cfg.Handle,
		journal:  cfg.Journal,
		stats:    cfg.Stats,
		tuning:   cfg.Tuning,
		pipeline: cfg.Pipeline,
		baseCtx:  cfg.ShutdownCtx,
		started:  time.Now(),
	}
}

// Stats returns the server's stream counters, for the periodic stats logger.
func (s *Server) Stats() *mjpeg.StreamStats { return s.stats }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the wrapped writer so the stream handler can take
// over the client socket through the logging middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.showIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/healthz", s.showHealthz)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sessions", s.listSessions)
	return mux
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>camstream</title>
<style>
body { background: #111; color: #ddd; font-family: monospace; text-align: center; }
img { max-width: 95vw; border: 1px solid #444; margin-top: 1em; }
a { color: #6cf; }
</style>
</head>
<body>
<h1>camstream: %s</h1>
<img src="/stream" alt="live camera stream">
<p><a href="/snapshot">snapshot</a> | <a href="/healthz">health</a> | <a href="/api/sessions">sessions</a></p>
</body>
</html>
`

func (s *Server) showIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	doc := fmt.Sprintf(indexHTML, html.EscapeString(s.handle.Device().Kind()))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *Server) showHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.stats.Snapshot()
	httputil.WriteJSONOK(w, map[string]any{
		"ok":        true,
		"version":   version.String(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"device":    s.handle.Device().Kind(),
		"streaming": s.cell.Held(),
		"sessions":  snap.Sessions,
		"frames":    snap.Frames,
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	bursts, captureBytes, burstLive := s.handle.Stats()
	httputil.WriteJSONOK(w, map[string]any{
		"device":        s.handle.Device().Kind(),
		"streaming":     s.cell.Held(),
		"burst_live":    burstLive,
		"bursts":        bursts,
		"capture_bytes": captureBytes,
		"stream":        s.stats.Snapshot(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "session journal not enabled")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	records, err := s.journal.RecentSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if records == nil {
		records = []sessionlog.SessionRecord{}
	}
	httputil.WriteJSONOK(w, records)
}
