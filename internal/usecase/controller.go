package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"

	"framerecorder/internal/domain"
	"framerecorder/internal/ports"
)

var (
	ErrNotConnected      = errors.New("frame channel is not connected")
	ErrAlreadyConnected  = errors.New("frame channel is already connected")
	ErrAlreadyRecording  = errors.New("a recording is already in progress")
	ErrTranscodeInFlight = errors.New("a transcode job is still running")
)

// Config controls recording behavior.
type Config struct {
	ChannelURL string
	Encoder    ports.EncoderConfig
}

// Deps are the ports the controller drives. History and Notifier are optional.
type Deps struct {
	Channel  ports.FrameChannel
	Surface  ports.FrameSurface
	Encoder  ports.Encoder
	Codec    ports.CodecEngine
	Store    ports.ObjectStore
	History  ports.HistoryStore
	Notifier ports.Notifier
	Events   ports.EventSink
	Clock    clock.Clock
}

// SessionController orchestrates the frame channel, recording and transcode lifecycle.
type SessionController struct {
	channel   ports.FrameChannel
	surface   ports.FrameSurface
	encoder   ports.Encoder
	codec     ports.CodecEngine
	store     ports.ObjectStore
	events    ports.EventSink
	clock     clock.Clock
	finalizer resultFinalizer
	cfg       Config

	// opMu serializes control operations; mu guards the fields below.
	opMu sync.Mutex

	mu          sync.Mutex
	state       domain.SessionState
	channelSt   domain.ChannelState
	link        *channelLink
	rec         *activeRecording
	transcoding bool
	progress    int
	lastStats   domain.RecordingStats
	result      *domain.Result
	message     string
}

func NewSessionController(deps Deps, cfg Config) *SessionController {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if cfg.Encoder.FrameRate <= 0 {
		cfg.Encoder.FrameRate = 30
	}
	if cfg.Encoder.Container == "" {
		cfg.Encoder.Container = "webm"
	}
	if cfg.Encoder.Codec == "" {
		cfg.Encoder.Codec = "vp8"
	}
	return &SessionController{
		channel:   deps.Channel,
		surface:   deps.Surface,
		encoder:   deps.Encoder,
		codec:     deps.Codec,
		store:     deps.Store,
		events:    deps.Events,
		clock:     deps.Clock,
		finalizer: newResultFinalizer(deps.Store, deps.History, deps.Notifier, deps.Clock),
		cfg:       cfg,
		state:     domain.SessionStateIdle,
		channelSt: domain.ChannelStateDisconnected,
	}
}

// Connect opens the frame channel. An empty url uses the configured one.
func (c *SessionController) Connect(ctx context.Context, url string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch {
	case c.link != nil:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.transcoding:
		c.mu.Unlock()
		return ErrTranscodeInFlight
	}
	c.mu.Unlock()

	if strings.TrimSpace(url) == "" {
		url = c.cfg.ChannelURL
	}

	c.setChannelState(domain.ChannelStateConnecting)
	c.setState(domain.SessionStateConnecting, domain.SessionReasonChannelConnecting)

	linkCtx, cancel := context.WithCancel(ctx)
	session, err := c.channel.Dial(linkCtx, url)
	if err != nil {
		cancel()
		logger.Warnf(ctx, "frame channel dial to %q failed: %v", url, err)
		c.setChannelState(domain.ChannelStateError)
		c.events.SessionError(domain.ErrorCodeConnectivity, err.Error())
		c.setState(domain.SessionStateIdle, domain.SessionReasonChannelFailed)
		return err
	}

	c.surface.Reset()
	link := &channelLink{session: session, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.link = link
	c.mu.Unlock()

	c.setChannelState(domain.ChannelStateConnected)
	c.setState(domain.SessionStateConnected, domain.SessionReasonChannelOpen)
	logger.Debugf(ctx, "frame channel connected: %s", url)

	go c.consume(linkCtx, link)
	return nil
}

func (c *SessionController) consume(ctx context.Context, link *channelLink) {
	err := drainChannel(ctx, link, c.surface, c.events)
	close(link.done)
	if link.closing.Load() {
		return
	}
	c.onChannelLost(ctx, link, err)
}

// onChannelLost handles a channel that ended without Disconnect.
func (c *SessionController) onChannelLost(ctx context.Context, link *channelLink, cause error) {
	c.opMu.Lock()

	c.mu.Lock()
	if c.link != link {
		c.mu.Unlock()
		c.opMu.Unlock()
		return
	}
	c.link = nil
	recording := c.rec != nil
	transcoding := c.transcoding
	c.mu.Unlock()
	link.cancel()

	reason := domain.SessionReasonChannelClosed
	if cause != nil {
		reason = domain.SessionReasonChannelFailed
		logger.Warnf(ctx, "frame channel failed: %v", cause)
		c.setChannelState(domain.ChannelStateError)
		c.events.SessionError(domain.ErrorCodeConnectivity, cause.Error())
	} else {
		logger.Debugf(ctx, "frame channel closed by peer")
		c.setChannelState(domain.ChannelStateDisconnected)
	}

	if !recording {
		// A running job reports its own terminal state.
		if !transcoding {
			c.setState(domain.SessionStateIdle, reason)
		}
		c.opMu.Unlock()
		return
	}

	job := c.detachRecording(ctx, domain.SessionReasonRecordingForced)
	c.opMu.Unlock()
	_, _ = c.runTranscode(context.WithoutCancel(ctx), job)
}

// Disconnect closes the channel. An active recording is force-stopped and still transcoded.
func (c *SessionController) Disconnect(ctx context.Context) (*domain.Result, error) {
	c.opMu.Lock()

	c.mu.Lock()
	link := c.link
	c.link = nil
	recording := c.rec != nil
	transcoding := c.transcoding
	c.mu.Unlock()

	if link == nil {
		c.opMu.Unlock()
		return c.Result(), nil
	}

	link.closing.Store(true)
	if err := link.session.Close(); err != nil {
		logger.Debugf(ctx, "frame channel close: %v", err)
	}
	<-link.done
	link.cancel()
	c.setChannelState(domain.ChannelStateDisconnected)

	if !recording {
		if !transcoding {
			c.setState(domain.SessionStateIdle, domain.SessionReasonDisconnected)
		}
		c.opMu.Unlock()
		return c.Result(), nil
	}

	job := c.detachRecording(ctx, domain.SessionReasonRecordingForced)
	c.opMu.Unlock()
	return c.runTranscode(ctx, job)
}

// StartRecording begins capturing the canvas into the encoder.
func (c *SessionController) StartRecording(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch {
	case c.link == nil:
		c.mu.Unlock()
		return ErrNotConnected
	case c.rec != nil:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case c.transcoding:
		c.mu.Unlock()
		return ErrTranscodeInFlight
	}
	previous := c.result
	c.result = nil
	c.progress = 0
	c.lastStats = domain.RecordingStats{}
	c.mu.Unlock()

	if previous != nil {
		c.store.Revoke(previous.URL)
	}

	cfg := c.cfg.Encoder
	cfg.Width, cfg.Height = c.surface.Size()
	session, err := c.encoder.Start(ctx, cfg)
	if err != nil {
		logger.Warnf(ctx, "encoder start failed: %v", err)
		c.events.SessionError(domain.ErrorCodeEncoder, err.Error())
		c.setState(domain.SessionStateConnected, domain.SessionReasonEncoderUnavailable)
		return fmt.Errorf("unable to start recording: %w", err)
	}

	rec := newActiveRecording(uuid.NewString(), session, c.clock.Now())
	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()

	recCtx := context.WithoutCancel(ctx)
	go pumpFrames(recCtx, rec, c.surface, c.clock, cfg.FrameRate)
	go collectChunks(rec, c.clock, c.events)
	go tickElapsed(rec, c.clock, c.events)

	c.setState(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	c.events.RecordingProgress(rec.stats(c.clock.Now()))
	return nil
}

// StopRecording finalizes the active recording and transcodes it.
// It returns the current result without error when nothing is recording.
func (c *SessionController) StopRecording(ctx context.Context) (*domain.Result, error) {
	c.opMu.Lock()

	c.mu.Lock()
	recording := c.rec != nil
	c.mu.Unlock()
	if !recording {
		c.opMu.Unlock()
		return c.Result(), nil
	}

	job := c.detachRecording(ctx, domain.SessionReasonRecordingStopped)
	c.opMu.Unlock()
	return c.runTranscode(ctx, job)
}

// detachRecording stops the encoder, waits for the final chunk and hands the
// recorded data over as a transcode job. Callers hold opMu.
func (c *SessionController) detachRecording(ctx context.Context, reason domain.SessionStateReason) transcodeJob {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()

	close(rec.stop)
	<-rec.captureDone
	<-rec.tickerDone
	rec.markStopped(c.clock.Now())

	if err := rec.encoder.Stop(); err != nil {
		logger.Warnf(ctx, "encoder did not stop cleanly: %v", err)
	}
	<-rec.chunksDone

	stats := rec.stats(c.clock.Now())
	job := transcodeJob{
		id:      rec.id,
		input:   rec.buffer.Drain(),
		stats:   stats,
		started: rec.started,
	}

	c.mu.Lock()
	c.rec = nil
	c.transcoding = true
	c.lastStats = stats
	c.mu.Unlock()

	c.events.RecordingProgress(stats)
	c.setState(domain.SessionStateStopped, reason)
	logger.Debugf(ctx, "recording %s stopped: %s, %s in %d chunks", job.id, stats.ElapsedLabel(), stats.SizeLabel(), stats.Chunks)
	return job
}

func (c *SessionController) runTranscode(ctx context.Context, job transcodeJob) (*domain.Result, error) {
	c.setState(domain.SessionStateTranscoding, domain.SessionReasonTranscoding)

	out, err := c.codec.Transcode(ctx, ports.TranscodeRequest{
		Input:    job.input,
		InputExt: c.cfg.Encoder.Container,
		Duration: job.stats.Elapsed,
	}, c.reportProgress)
	if err != nil {
		logger.Errorf(ctx, "transcode of recording %s failed: %v", job.id, err)
		c.mu.Lock()
		c.transcoding = false
		c.message = err.Error()
		c.mu.Unlock()

		c.events.SessionError(domain.ErrorCodeTranscode, err.Error())
		c.setState(domain.SessionStateFailed, domain.SessionReasonTranscodeFailed)
		c.finalizer.Fail(ctx, job, err)
		return nil, err
	}

	result := c.finalizer.Deliver(ctx, job, out)

	c.mu.Lock()
	c.transcoding = false
	c.progress = 100
	c.message = ""
	c.result = &result
	c.mu.Unlock()

	c.events.ResultReady(result)
	c.setState(domain.SessionStateReady, domain.SessionReasonTranscodeDone)
	copied := result
	return &copied, nil
}

func (c *SessionController) reportProgress(percent int) {
	c.mu.Lock()
	c.progress = percent
	c.mu.Unlock()
	c.events.TranscodeProgress(percent)
}

// Shutdown closes the channel and discards any active recording without transcoding it.
func (c *SessionController) Shutdown(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	link := c.link
	rec := c.rec
	c.link = nil
	c.rec = nil
	c.mu.Unlock()

	if link != nil {
		link.closing.Store(true)
		_ = link.session.Close()
		<-link.done
		link.cancel()
	}
	if rec != nil {
		close(rec.stop)
		<-rec.captureDone
		<-rec.tickerDone
		if err := rec.encoder.Stop(); err != nil {
			logger.Debugf(ctx, "encoder stop on shutdown: %v", err)
		}
		<-rec.chunksDone
		rec.buffer.Drain()
	}
}

// Result returns the latest downloadable result, if any.
func (c *SessionController) Result() *domain.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	copied := *c.result
	return &copied
}

// Status returns the current runtime status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:     c.state,
		Channel:   c.channelSt,
		Recording: c.rec != nil,
		Busy:      c.transcoding,
		Frames:    c.surface.Frames(),
		Stats:     c.lastStats,
		Progress:  c.progress,
		Message:   c.message,
	}
	if c.rec != nil {
		status.Stats = c.rec.stats(c.clock.Now())
	}
	if c.result != nil {
		copied := *c.result
		status.Result = &copied
	}
	return status
}

func (c *SessionController) setState(state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) setChannelState(state domain.ChannelState) {
	c.mu.Lock()
	c.channelSt = state
	c.mu.Unlock()
	c.events.ChannelStateChanged(state)
}
