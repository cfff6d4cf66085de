// ABOUTME: Audio output package for native PCM playback
// ABOUTME: Provides the Device interface, the Sink lifecycle and ALSA/malgo/oto/PortAudio/WAV/mock backends
// Package output writes PCM to playback devices.
//
// A Device is a thin wrapper over one native API. Sink owns a Device for a
// session and enforces the lifecycle:
//
//	Closed -> Opened -> Configured -> Running -> {Draining, XRunRecovering, Suspended} -> Closed
//
// Configure always finishes by asking the driver what it actually allocated.
// Drivers routinely round the buffer up, so Latency().ActualLatencyMs (not the
// requested hint) is the value sync logic must compensate for.
//
// Backends: alsa (linux, hw:C,D), malgo (miniaudio), oto (16-bit only),
// portaudio (build with -tags portaudio), wav (file) and mock (in memory).
//
// Example:
//
//	dev, _ := output.New("alsa")
//	sink := output.NewSink(dev)
//	err := sink.Open("hw:0,0")
//	lat, err := sink.Configure(format, output.AccessInterleaved, 100_000, false)
//	n, err := sink.Write(pcm)
//	if output.IsRecoverable(err) {
//	    err = sink.Recover(err)
//	}
package output
