package usecase

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"

	"framerecorder/internal/ports"
)

// pumpFrames feeds canvas snapshots to the encoder at a fixed rate until the recording stops.
func pumpFrames(
	ctx context.Context,
	rec *activeRecording,
	surface ports.FrameSurface,
	clk clock.Clock,
	frameRate int,
) {
	defer close(rec.captureDone)

	if frameRate <= 0 {
		frameRate = 30
	}
	ticker := clk.Ticker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-rec.stop:
			return
		case <-ticker.C:
			if err := rec.encoder.WriteFrame(surface.Snapshot()); err != nil {
				failures++
				if failures == 1 || failures%100 == 0 {
					logger.Warnf(ctx, "failed to feed frame to encoder (%d failures): %v", failures, err)
				}
				continue
			}
			rec.buffer.CountFrame()
		}
	}
}

// collectChunks buffers encoder output and reports the accumulated size on every chunk.
func collectChunks(rec *activeRecording, clk clock.Clock, events ports.EventSink) {
	defer close(rec.chunksDone)

	for chunk := range rec.encoder.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		rec.buffer.Add(chunk)
		events.RecordingProgress(rec.stats(clk.Now()))
	}
}

// tickElapsed reports the elapsed recording time once per second.
func tickElapsed(rec *activeRecording, clk clock.Clock, events ports.EventSink) {
	defer close(rec.tickerDone)

	ticker := clk.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-rec.stop:
			return
		case <-ticker.C:
			events.RecordingProgress(rec.stats(clk.Now()))
		}
	}
}

func drainChannel(ctx context.Context, link *channelLink, surface ports.FrameSurface, events ports.EventSink) error {
	for msg := range link.session.Messages() {
		if link.closing.Load() {
			continue
		}
		if count, ok := surface.Render(ctx, msg); ok {
			events.FrameRendered(count)
		}
	}
	return link.session.Wait()
}
