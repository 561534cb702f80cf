package sessionlog

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// echartsAssetsPrefix is where chart pages load the echarts JS bundle from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://sessions.db", db.DB, &tailsql.DBOptions{
		Label: "Session journal",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("sessions-info", "Session journal counters (JSON)", http.HandlerFunc(db.serveSessionsInfo))
	debug.Handle("charts/sessions", "Bar chart of recent session throughput", http.HandlerFunc(db.serveSessionsChart))

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := gzipWriter.Write([]byte{}); err != nil {
			// Need to write something to initialize the gzip header
			http.Error(w, fmt.Sprintf("Failed to initialize gzip writer: %v", err), http.StatusInternalServerError)
			return
		}

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}

func (db *DB) serveSessionsInfo(w http.ResponseWriter, r *http.Request) {
	var total int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		http.Error(w, fmt.Sprintf("Failed to count sessions: %v", err), http.StatusInternalServerError)
		return
	}
	reasons, err := db.CloseReasonCounts()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to count close reasons: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_sessions": total,
		"close_reasons":  reasons,
	})
}

// serveSessionsChart renders a simple bar chart of per-session throughput,
// oldest on the left so the chart reads in journal order.
func (db *DB) serveSessionsChart(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	records, err := db.RecentSessions(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load sessions: %v", err), http.StatusInternalServerError)
		return
	}

	x := make([]string, 0, len(records))
	frames := make([]opts.BarData, 0, len(records))
	kb := make([]opts.BarData, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		label := rec.SessionID
		if len(label) > 8 {
			label = label[:8]
		}
		x = append(x, label)
		frames = append(frames, opts.BarData{Value: rec.Frames})
		kb = append(kb, opts.BarData{Value: float64(rec.Bytes) / 1024.0})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Recent Sessions", Subtitle: fmt.Sprintf("last %d sessions, newest on the right", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("frames", frames,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("payload KB", kb)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
