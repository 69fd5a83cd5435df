package commands

import (
	"fmt"
	"io"
	"sync"

	"framerecorder/internal/domain"
)

// progressSink prints session progress for terminal use.
type progressSink struct {
	mu  sync.Mutex
	out io.Writer

	lost     chan struct{}
	lostOnce sync.Once
	finished chan domain.SessionState
	lastErr  string
}

func newProgressSink(out io.Writer) *progressSink {
	return &progressSink{
		out:      out,
		lost:     make(chan struct{}),
		finished: make(chan domain.SessionState, 8),
	}
}

// Lost is closed once the frame channel closes or fails.
func (p *progressSink) Lost() <-chan struct{} {
	return p.lost
}

// Finished receives every ready or failed transition.
func (p *progressSink) Finished() <-chan domain.SessionState {
	return p.finished
}

func (p *progressSink) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *progressSink) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *progressSink) ChannelStateChanged(state domain.ChannelState) {
	p.printf("channel: %s\n", state)
	if state == domain.ChannelStateError || state == domain.ChannelStateDisconnected {
		p.lostOnce.Do(func() { close(p.lost) })
	}
}

func (p *progressSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	p.printf("state: %s (%s)\n", state, reason)
	if state == domain.SessionStateReady || state == domain.SessionStateFailed {
		select {
		case p.finished <- state:
		default:
		}
	}
}

func (p *progressSink) FrameRendered(int64) {}

func (p *progressSink) RecordingProgress(stats domain.RecordingStats) {
	p.printf("recording: %s  %s  %d frames\n", stats.ElapsedLabel(), stats.SizeLabel(), stats.Frames)
}

func (p *progressSink) TranscodeProgress(percent int) {
	p.printf("converting: %d%%\n", percent)
}

func (p *progressSink) ResultReady(result domain.Result) {
	p.printf("ready: %s\n", result.Filename)
}

func (p *progressSink) SessionError(code domain.ErrorCode, detail string) {
	p.mu.Lock()
	p.lastErr = detail
	p.mu.Unlock()
	p.printf("error (%s): %s\n", code, detail)
}
