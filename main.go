package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/camstream/internal/api"
	"github.com/banshee-data/camstream/internal/capture"
	"github.com/banshee-data/camstream/internal/config"
	"github.com/banshee-data/camstream/internal/mjpeg"
	"github.com/banshee-data/camstream/internal/sessionlog"
	"github.com/banshee-data/camstream/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	device     = flag.String("device", "serial", "Camera device: serial, exec, or replay")
	dbFile     = flag.String("db", "sessions.db", "Session journal database file (empty disables the journal)")
	pipeline   = flag.String("pipeline", "direct", "Frame delivery pipeline: direct or queued")
	tuningFile = flag.String("tuning", "", "Optional JSON tuning file for stream parameters")
	bufferKiB  = flag.Int("buffer-kib", 0, "Frame buffer capacity in KiB (0 uses the tuning file or default)")
	devMode    = flag.Bool("dev", false, "Run in dev mode: replay the -replay-file fixture instead of real hardware")
	debugMode  = flag.Bool("debug", false, "Enable verbose capture and stream debug logging")

	serialPort   = flag.String("serial-port", "/dev/ttyUSB0", "Serial camera port")
	serialBaud   = flag.Int("serial-baud", 38400, "Serial camera baud rate")
	serialParity = flag.String("serial-parity", "N", "Serial parity: N, E, or O")

	execCommand = flag.String("exec-command", "", "Capture command for -device=exec, e.g. 'rpicam-vid -t 0 --codec mjpeg -o -'")

	replayFile = flag.String("replay-file", "camera.burstlog", "Burst log fixture for -device=replay")

	statsInterval = flag.Duration("stats-interval", time.Minute, "Interval between stream stats log lines")
)

// buildDevice opens the camera selected on the command line.
func buildDevice() (capture.Device, error) {
	switch *device {
	case "serial":
		return capture.NewSerialDevice(capture.SerialConfig{
			Path: *serialPort,
			Options: capture.SerialOptions{
				BaudRate: *serialBaud,
				Parity:   *serialParity,
			},
		})
	case "exec":
		if *execCommand == "" {
			return nil, fmt.Errorf("-exec-command is required with -device=exec")
		}
		parts := strings.Fields(*execCommand)
		return capture.NewExecDevice(capture.ExecConfig{
			Command: parts[0],
			Args:    parts[1:],
		})
	case "replay":
		return capture.NewReplayDevice(capture.ReplayConfig{
			Path: *replayFile,
			Loop: true,
		})
	default:
		return nil, fmt.Errorf("unknown device %q: expected serial, exec, or replay", *device)
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *devMode {
		*device = "replay"
	}

	log.Printf("camstream %s starting", version.String())

	if *debugMode {
		capture.SetDebugLogger(os.Stderr)
		mjpeg.SetDebugLogger(os.Stderr)
	}

	tuning := config.EmptyStreamTuning()
	if *tuningFile != "" {
		var err error
		tuning, err = config.LoadStreamTuning(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning file: %v", err)
		}
	}

	pl := mjpeg.Pipeline(*pipeline)
	if pl != mjpeg.PipelineDirect && pl != mjpeg.PipelineQueued {
		log.Fatalf("Unknown pipeline %q: expected direct or queued", *pipeline)
	}

	dev, err := buildDevice()
	if err != nil {
		log.Fatalf("Failed to open camera device: %v", err)
	}
	defer dev.Close()

	scratch := tuning.GetBufferSize()
	if *bufferKiB > 0 {
		scratch = *bufferKiB * 1024
	}
	handle := capture.NewHandle(dev, capture.HandleOptions{
		Warmup:      tuning.GetWarmupBursts(),
		ScratchSize: scratch,
	})
	cell := capture.NewCell(handle)

	var journal *sessionlog.DB
	if *dbFile != "" {
		journal, err = sessionlog.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session journal: %v", err)
		}
		defer journal.Close()
	}

	// Wait group for the HTTP server and stats logging routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(api.Config{
		Cell:        cell,
		Handle:      handle,
		Journal:     journal,
		Tuning:      tuning,
		Pipeline:    pl,
		ShutdownCtx: ctx,
	})

	// periodic stream throughput logging
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Print("stats routine terminated")
				return
			case <-ticker.C:
				srv.Stats().LogStats()
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		handle.AttachAdminRoutes(mux)
		if journal != nil {
			journal.AttachAdminRoutes(mux)
		}

		// public surface: stream, snapshot, camera page, health, session API
		mux.Handle("/", srv.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Listening on %s (device %s, pipeline %s)", *listen, dev.Kind(), pl)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server. A live
		// streaming session watches the same context and lets go of its
		// hijacked connection on its own.
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
