package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"framerecorder/internal/domain"
	"framerecorder/internal/ports"
)

var sessionStates = []domain.SessionState{
	domain.SessionStateIdle,
	domain.SessionStateConnecting,
	domain.SessionStateConnected,
	domain.SessionStateRecording,
	domain.SessionStateStopped,
	domain.SessionStateTranscoding,
	domain.SessionStateReady,
	domain.SessionStateFailed,
}

// Sink records session events as Prometheus metrics and forwards them to next.
type Sink struct {
	next ports.EventSink

	framesRendered prometheus.Counter
	recordedBytes  prometheus.Gauge
	recordedChunks prometheus.Gauge
	transcodes     *prometheus.CounterVec
	errors         *prometheus.CounterVec
	sessionState   *prometheus.GaugeVec
	transcodePct   prometheus.Gauge

	mu        sync.Mutex
	lastState domain.SessionState
}

// NewSink registers the metrics on reg. next may be nil.
func NewSink(reg prometheus.Registerer, next ports.EventSink) *Sink {
	s := &Sink{
		next: next,
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framerecorder", Name: "frames_rendered_total",
			Help: "Frames painted onto the canvas.",
		}),
		recordedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framerecorder", Name: "recording_bytes",
			Help: "Bytes collected by the current recording.",
		}),
		recordedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framerecorder", Name: "recording_chunks",
			Help: "Chunks collected by the current recording.",
		}),
		transcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerecorder", Name: "transcodes_total",
			Help: "Finished transcode jobs by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerecorder", Name: "errors_total",
			Help: "Session errors by code.",
		}, []string{"code"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "framerecorder", Name: "session_state",
			Help: "1 for the current session state.",
		}, []string{"state"}),
		transcodePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framerecorder", Name: "transcode_progress_percent",
			Help: "Progress of the running transcode job.",
		}),
	}
	reg.MustRegister(s.framesRendered, s.recordedBytes, s.recordedChunks, s.transcodes, s.errors, s.sessionState, s.transcodePct)
	for _, state := range sessionStates {
		s.sessionState.WithLabelValues(string(state)).Set(0)
	}
	s.sessionState.WithLabelValues(string(domain.SessionStateIdle)).Set(1)
	s.lastState = domain.SessionStateIdle
	return s
}

func (s *Sink) ChannelStateChanged(state domain.ChannelState) {
	if s.next != nil {
		s.next.ChannelStateChanged(state)
	}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.mu.Lock()
	s.sessionState.WithLabelValues(string(s.lastState)).Set(0)
	s.sessionState.WithLabelValues(string(state)).Set(1)
	s.lastState = state
	s.mu.Unlock()

	if state == domain.SessionStateRecording {
		s.recordedBytes.Set(0)
		s.recordedChunks.Set(0)
	}
	if state == domain.SessionStateTranscoding {
		s.transcodePct.Set(0)
	}
	if s.next != nil {
		s.next.SessionStateChanged(state, reason)
	}
}

func (s *Sink) FrameRendered(count int64) {
	s.framesRendered.Inc()
	if s.next != nil {
		s.next.FrameRendered(count)
	}
}

func (s *Sink) RecordingProgress(stats domain.RecordingStats) {
	s.recordedBytes.Set(float64(stats.Bytes))
	s.recordedChunks.Set(float64(stats.Chunks))
	if s.next != nil {
		s.next.RecordingProgress(stats)
	}
}

func (s *Sink) TranscodeProgress(percent int) {
	s.transcodePct.Set(float64(percent))
	if s.next != nil {
		s.next.TranscodeProgress(percent)
	}
}

func (s *Sink) ResultReady(result domain.Result) {
	s.transcodes.WithLabelValues("ready").Inc()
	if s.next != nil {
		s.next.ResultReady(result)
	}
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.errors.WithLabelValues(string(code)).Inc()
	if code == domain.ErrorCodeTranscode {
		s.transcodes.WithLabelValues("failed").Inc()
	}
	if s.next != nil {
		s.next.SessionError(code, detail)
	}
}
