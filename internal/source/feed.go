// ABOUTME: Paces decoded audio into a scheduled source
// ABOUTME: Stamps chunks from a start time and keeps a bounded lead over the clock
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

const (
	// DefaultChunkFrames is 20ms at 48kHz
	DefaultChunkFrames = 960

	// DefaultLead is how far ahead of the clock chunks are pushed
	DefaultLead = 500 * time.Millisecond
)

// Feed decodes dec into dst until ctx is done or a non-looping decoder ends.
// The first frame is due at start; chunks are pushed at most lead ahead of
// the wall clock, the way a network stream arrives.
func Feed(ctx context.Context, dec Decoder, dst *Scheduled, start time.Time, chunkFrames int, lead time.Duration) error {
	if dec.SampleRate() != dst.SampleRate() || dec.Channels() != dst.Channels() {
		return fmt.Errorf("decoder is %d Hz/%d ch, source expects %d Hz/%d ch",
			dec.SampleRate(), dec.Channels(), dst.SampleRate(), dst.Channels())
	}
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	if lead <= 0 {
		lead = DefaultLead
	}

	rate := int64(dec.SampleRate())
	ch := dec.Channels()
	base := start.UnixMicro()
	var frames int64

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		for {
			ts := base + frames*1_000_000/rate
			if time.Until(time.UnixMicro(ts)) >= lead {
				break
			}

			buf := make([]float32, chunkFrames*ch)
			n, err := dec.Read(buf)
			n -= n % ch
			if n > 0 {
				chunk := audio.Buffer{
					Timestamp: ts,
					PlayAt:    time.UnixMicro(ts),
					Samples:   buf[:n],
					Channels:  ch,
				}
				if perr := dst.Push(chunk); perr != nil {
					return perr
				}
				frames += int64(n / ch)
			}
			if errors.Is(err, io.EOF) {
				log.Printf("Source ended after %d frames", frames)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to decode audio: %w", err)
			}
			if n == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
