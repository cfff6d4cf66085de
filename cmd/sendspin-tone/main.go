// ABOUTME: Test tone player
// ABOUTME: Plays a sine tone through a backend for a fixed time to check wiring and levels
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sendspin/sendspin-playback/internal/app"
	"github.com/Sendspin/sendspin-playback/internal/config"
)

var (
	configPath = flag.String("config", "", "Config file for the output settings")
	backend    = flag.String("backend", "", "Output backend (default: from config)")
	device     = flag.String("device", "", "Output device (default: from config)")
	freq       = flag.Float64("freq", 440, "Tone frequency in Hz")
	duration   = flag.Duration("duration", 3*time.Second, "How long to play")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	overrides := map[string]any{
		"source":  "",
		"tone_hz": *freq,
		"no_tui":  true,
	}
	if *backend != "" {
		overrides["backend"] = *backend
	}
	if *device != "" {
		overrides["device"] = *device
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration+time.Duration(cfg.BufferMs)*time.Millisecond)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Playing %.0fHz tone on %s %q for %v", *freq, cfg.Backend, cfg.Device, *duration)

	player := app.New(cfg, nil)
	if err := player.Start(ctx); err != nil {
		log.Fatalf("Playback failed: %v", err)
	}

	st := player.Status()
	if st.Pipeline != nil {
		log.Printf("Done: %d frames written, %d xruns, latency %.1fms",
			st.Pipeline.FramesWritten, st.Pipeline.XRuns, st.Pipeline.Latency.ActualLatencyMs)
	}
}
