package ports

import (
	"context"
	"image"
	"time"

	"framerecorder/internal/domain"
)

// ChannelSession is an open frame socket. Each message is one encoded frame.
type ChannelSession interface {
	Messages() <-chan []byte
	Wait() error
	Close() error
}

// FrameChannel opens frame socket sessions.
type FrameChannel interface {
	Dial(ctx context.Context, url string) (ChannelSession, error)
}

// FrameSurface paints channel messages and exposes the canvas for capture.
type FrameSurface interface {
	Render(ctx context.Context, payload []byte) (frames int64, ok bool)
	Snapshot() *image.RGBA
	Size() (width int, height int)
	Frames() int64
	Reset()
}

// EncoderConfig describes how canvas snapshots should be encoded.
type EncoderConfig struct {
	Width         int
	Height        int
	FrameRate     int
	Container     string
	Codec         string
	ChunkInterval time.Duration
}

// EncoderSession is a live encoder. Chunks is closed after Stop has flushed the last chunk.
type EncoderSession interface {
	WriteFrame(frame *image.RGBA) error
	Chunks() <-chan []byte
	Stop() error
}

// Encoder creates encoder sessions.
type Encoder interface {
	Start(ctx context.Context, cfg EncoderConfig) (EncoderSession, error)
}

// TranscodeRequest is one transcode job input.
type TranscodeRequest struct {
	Input    []byte
	InputExt string
	Duration time.Duration
}

// TranscodeOutput is the verified result of a transcode job.
type TranscodeOutput struct {
	Data  []byte
	Media domain.MediaInfo
}

// CodecEngine converts a recorded container into a distributable one.
// Implementations accept at most one job at a time.
type CodecEngine interface {
	Transcode(ctx context.Context, req TranscodeRequest, progress func(percent int)) (TranscodeOutput, error)
}

// ObjectStore holds downloadable results behind revocable reference URLs.
type ObjectStore interface {
	Create(data []byte, mimeType string, filename string) string
	Revoke(url string)
	// Path is the HTTP path serving url, or "" when url is not served.
	Path(url string) string
}

// HistoryStore persists finished recordings.
type HistoryStore interface {
	Save(ctx context.Context, summary domain.RecordingSummary) error
}

// Notifier announces finished recordings to other systems.
type Notifier interface {
	Notify(ctx context.Context, summary domain.RecordingSummary) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	ChannelStateChanged(state domain.ChannelState)
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	FrameRendered(count int64)
	RecordingProgress(stats domain.RecordingStats)
	TranscodeProgress(percent int)
	ResultReady(result domain.Result)
	SessionError(code domain.ErrorCode, detail string)
}
