package capture

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var capturePageTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/capture.html.tmpl"))

// AttachAdminRoutes attaches capture debugging endpoints to the given
// HTTP mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (h *Handle) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Live burst monitor page backed by the two API endpoints below.
	debug.HandleFunc("capture", "live camera burst activity", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := capturePageTemplate.Execute(buf, map[string]any{
			"Kind": h.dev.Kind(),
		}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint reporting handle counters.
	debug.HandleSilentFunc("capture-info", func(w http.ResponseWriter, r *http.Request) {
		bursts, bytes, active := h.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"kind":        h.dev.Kind(),
			"bursts":      bursts,
			"bytes":       bytes,
			"burst_live":  active,
			"scratch_cap": cap(h.scratch),
			"warmup":      h.warmup,
		})
	})

	// API endpoint issuing Server-Side Events (SSE) with one line per
	// completed burst.
	debug.HandleSilentFunc("capture-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
