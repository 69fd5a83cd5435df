package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"framerecorder/internal/domain"
	"framerecorder/internal/ports"
)

type channelLink struct {
	session ports.ChannelSession
	cancel  func()
	closing atomic.Bool
	done    chan struct{}
}

type activeRecording struct {
	id      string
	encoder ports.EncoderSession
	buffer  *chunkBuffer

	started time.Time

	stopMu  sync.Mutex
	stopped time.Time

	stop        chan struct{}
	captureDone chan struct{}
	tickerDone  chan struct{}
	chunksDone  chan struct{}
}

func newActiveRecording(id string, encoder ports.EncoderSession, started time.Time) *activeRecording {
	return &activeRecording{
		id:          id,
		encoder:     encoder,
		buffer:      newChunkBuffer(),
		started:     started,
		stop:        make(chan struct{}),
		captureDone: make(chan struct{}),
		tickerDone:  make(chan struct{}),
		chunksDone:  make(chan struct{}),
	}
}

// elapsed is frozen once the recording has been stopped.
func (r *activeRecording) elapsed(now time.Time) time.Duration {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if !r.stopped.IsZero() {
		now = r.stopped
	}
	if now.Before(r.started) {
		return 0
	}
	return now.Sub(r.started)
}

func (r *activeRecording) markStopped(now time.Time) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.stopped.IsZero() {
		r.stopped = now
	}
}

func (r *activeRecording) stats(now time.Time) domain.RecordingStats {
	return r.buffer.Stats(r.elapsed(now))
}

// transcodeJob is the private input handed to the codec engine after a recording stops.
type transcodeJob struct {
	id      string
	input   []byte
	stats   domain.RecordingStats
	started time.Time
}
