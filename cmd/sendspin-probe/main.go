// ABOUTME: Device probe and latency calibration tool
// ABOUTME: Lists output devices, shows what they accept, and measures actual latency per request
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Sendspin/sendspin-playback/internal/version"
	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
)

var (
	backend   = flag.String("backend", "alsa", "Output backend to probe")
	device    = flag.String("device", "", "Device to probe (default: every device the backend lists)")
	rate      = flag.Int("rate", 48000, "Sample rate for calibration")
	channels  = flag.Int("channels", 2, "Channel count for calibration")
	bitDepth  = flag.String("bit-depth", "16", "Sample format for calibration: 16, 24, 24p, 32")
	latencies = flag.String("latency-ms", "10,20,50,100,200", "Comma-separated latency requests to calibrate")
	list      = flag.Bool("list", false, "List devices and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	depth, err := audio.ParseBitDepth(*bitDepth)
	if err != nil {
		log.Fatalf("%v", err)
	}
	format := audio.Format{SampleRate: *rate, Channels: *channels, BitDepth: depth}
	if err := format.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	requests, err := parseLatencies(*latencies)
	if err != nil {
		log.Fatalf("invalid -latency-ms: %v", err)
	}

	names := []string{*device}
	if *device == "" {
		names, err = listDevices(*backend)
		if err != nil {
			log.Fatalf("Failed to list %s devices: %v", *backend, err)
		}
	}

	fmt.Println(version.String())
	fmt.Printf("=== %s devices ===\n", *backend)
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	if *list {
		return
	}

	failed := false
	for _, name := range names {
		fmt.Println()
		if err := probe(name, format, requests); err != nil {
			fmt.Printf("  probe failed: %v\n", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func listDevices(backend string) ([]string, error) {
	switch strings.ToLower(backend) {
	case "alsa":
		return output.ALSADevices()
	case "malgo", "miniaudio":
		return output.MalgoDevices()
	default:
		return []string{"default"}, nil
	}
}

// probe prints what the device accepts and the latency each request yields
func probe(name string, format audio.Format, requests []int) error {
	fmt.Printf("=== %s ===\n", name)

	caps, err := capabilities(name)
	if err != nil {
		fmt.Printf("  capabilities: unknown (%v)\n", err)
	} else {
		fmt.Printf("  capabilities: %s\n", caps)
	}

	fmt.Printf("  calibrating %s\n", format)
	fmt.Printf("  %10s %10s %10s %10s\n", "requested", "buffer", "period", "actual")

	for _, ms := range requests {
		lat, err := calibrate(name, format, ms)
		if err != nil {
			return err
		}
		fmt.Printf("  %8dms %10d %10d %8.1fms\n", ms, lat.ActualBufferFrames, lat.ActualPeriodFrames, lat.ActualLatencyMs)
	}
	return nil
}

func capabilities(name string) (output.Capabilities, error) {
	if strings.ToLower(*backend) == "alsa" {
		return output.ProbeALSA(name)
	}
	dev, err := output.New(*backend)
	if err != nil {
		return output.Capabilities{}, err
	}
	if err := dev.Open(name); err != nil {
		return output.Capabilities{}, err
	}
	defer dev.Close()
	return dev.Capabilities()
}

// calibrate opens a fresh session so each request starts from a clean device
func calibrate(name string, format audio.Format, latencyMs int) (output.Latency, error) {
	dev, err := output.New(*backend)
	if err != nil {
		return output.Latency{}, err
	}
	sink := output.NewSink(dev)
	if err := sink.Open(name); err != nil {
		return output.Latency{}, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Printf("Warning: %v", err)
		}
	}()
	return sink.Configure(format, output.AccessInterleaved, latencyMs*1000, true)
}

func parseLatencies(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ms, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if ms <= 0 {
			return nil, fmt.Errorf("latency must be > 0, got %d", ms)
		}
		out = append(out, ms)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no latencies given")
	}
	return out, nil
}
