// ABOUTME: Entry point for the Sendspin playback engine
// ABOUTME: Loads configuration, sets up logging and the TUI, and runs the player until quit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sendspin/sendspin-playback/internal/app"
	"github.com/Sendspin/sendspin-playback/internal/config"
	"github.com/Sendspin/sendspin-playback/internal/ui"
	"github.com/Sendspin/sendspin-playback/internal/version"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	configPath  = flag.String("config", "", "Config file (default: ./sendspin.yaml or ~/.config/sendspin/sendspin.yaml)")
	printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
	streamLogs  = flag.Bool("stream-logs", false, "Alias for -no-tui")

	// flags below override the config file and environment when set
	_ = flag.String("backend", "", "Output backend: alsa, malgo, oto, portaudio, wav, mock")
	_ = flag.String("device", "", "Output device name (ALSA hw:0,0, WAV file path, ...)")
	_ = flag.Int("rate", 0, "Device sample rate in Hz")
	_ = flag.Int("channels", 0, "Device channel count")
	_ = flag.String("bit-depth", "", "Device sample format: 16, 24, 24p, 32")
	_ = flag.Int("latency-ms", 0, "Requested device latency in milliseconds")
	_ = flag.Int("period-frames", 0, "Frames per write (default: device period)")
	_ = flag.String("strategy", "", "Sync correction: dropinsert or rate")
	_ = flag.Int("static-delay-ms", 0, "Extra delay applied to the schedule")
	_ = flag.Int("buffer-ms", 0, "How far ahead of playback audio is queued")
	_ = flag.String("source", "", "Audio file to play (.mp3, .flac, .wav); empty plays a test tone")
	_ = flag.Float64("tone-hz", 0, "Test tone frequency")
	_ = flag.Bool("loop", true, "Loop the source file")
	_ = flag.String("log-file", "", "Log file path")
	_ = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

// flagKeys maps override flags to config keys
var flagKeys = map[string]string{
	"backend":         "backend",
	"device":          "device",
	"rate":            "sample_rate",
	"channels":        "channels",
	"bit-depth":       "bit_depth",
	"latency-ms":      "latency_ms",
	"period-frames":   "period_frames",
	"strategy":        "strategy",
	"static-delay-ms": "static_delay_ms",
	"buffer-ms":       "buffer_ms",
	"source":          "source",
	"tone-hz":         "tone_hz",
	"loop":            "loop",
	"log-file":        "log_file",
	"no-tui":          "no_tui",
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	overrides := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
	})
	if *streamLogs {
		overrides["no_tui"] = true
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Print(out)
		return
	}

	useTUI := !cfg.NoTUI

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
		log.Printf("Starting %s: %s on %q", version.String(), cfg.Backend, cfg.Device)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// TUI setup
	var ctrl *ui.Control
	var update func(ui.StatusMsg)
	var prog *tea.Program
	tuiDone := make(chan struct{})
	if useTUI {
		ctrl = ui.NewControl()
		prog = ui.Run(ctrl)
		go func() {
			defer close(tuiDone)
			if _, err := prog.Run(); err != nil {
				log.Printf("ERROR: TUI failed: %v", err)
			}
			cancel()
		}()
		update = func(msg ui.StatusMsg) { prog.Send(msg) }
	}

	player := app.New(cfg, update)

	if ctrl != nil {
		go handleControl(ctx, cancel, player, ctrl)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Printf("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = player.Start(ctx)

	// restore the terminal before reporting anything
	if prog != nil {
		prog.Quit()
		<-tuiDone
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ERROR: playback failed: %v", err)
		if useTUI {
			fmt.Fprintf(os.Stderr, "playback failed: %v\n", err)
		}
		_ = f.Close()
		os.Exit(1)
	}

	log.Printf("Player stopped")
}

// handleControl processes requests from the TUI
func handleControl(ctx context.Context, cancel context.CancelFunc, player *app.Player, ctrl *ui.Control) {
	for {
		select {
		case <-ctrl.Reanchor:
			player.Reanchor()
		case <-ctrl.Quit:
			log.Printf("Received quit signal from TUI")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
