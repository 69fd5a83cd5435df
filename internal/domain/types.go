package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionState models the recording and transcode lifecycle.
type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateConnecting  SessionState = "connecting"
	SessionStateConnected   SessionState = "connected"
	SessionStateRecording   SessionState = "recording"
	SessionStateStopped     SessionState = "stopped"
	SessionStateTranscoding SessionState = "transcoding"
	SessionStateReady       SessionState = "ready"
	SessionStateFailed      SessionState = "failed"
)

// ChannelState models the frame socket lifecycle.
type ChannelState string

const (
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateConnected    ChannelState = "connected"
	ChannelStateError        ChannelState = "error"
	ChannelStateDisconnected ChannelState = "disconnected"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStartup            SessionStateReason = "startup"
	SessionReasonChannelConnecting  SessionStateReason = "channel_connecting"
	SessionReasonChannelOpen        SessionStateReason = "channel_open"
	SessionReasonChannelFailed      SessionStateReason = "channel_failed"
	SessionReasonChannelClosed      SessionStateReason = "channel_closed"
	SessionReasonDisconnected       SessionStateReason = "disconnected"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonRecordingStopped   SessionStateReason = "recording_stopped"
	SessionReasonRecordingForced    SessionStateReason = "recording_force_stopped"
	SessionReasonEncoderUnavailable SessionStateReason = "encoder_unavailable"
	SessionReasonTranscoding        SessionStateReason = "transcoding"
	SessionReasonTranscodeDone      SessionStateReason = "transcode_done"
	SessionReasonTranscodeFailed    SessionStateReason = "transcode_failed"
)

// ErrorCode identifies user-facing failures. Frame decode failures never map to a code.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeConnectivity ErrorCode = "connectivity"
	ErrorCodeEncoder      ErrorCode = "encoder"
	ErrorCodeTranscode    ErrorCode = "transcode"
	ErrorCodeDelivery     ErrorCode = "delivery"
	ErrorCodeScene        ErrorCode = "scene"
)

const bytesPerMB = 1024 * 1024

// RecordingStats is the live view of a recording session.
type RecordingStats struct {
	Elapsed time.Duration `json:"elapsedNs"`
	Bytes   int64         `json:"bytes"`
	Chunks  int           `json:"chunks"`
	Frames  int64         `json:"frames"`
}

// ElapsedLabel renders the elapsed time as MM:SS, rounded to the nearest second.
func (s RecordingStats) ElapsedLabel() string {
	return FormatElapsed(s.Elapsed)
}

// SizeLabel renders the accumulated size in megabytes with two decimals.
func (s RecordingStats) SizeLabel() string {
	return FormatSize(s.Bytes)
}

func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return fmt.Sprintf("%.2f MB", float64(bytes)/bytesPerMB)
}

// MediaInfo summarizes a verified output container.
type MediaInfo struct {
	MajorBrand string        `json:"majorBrand"`
	Duration   time.Duration `json:"durationNs"`
	HasVideo   bool          `json:"hasVideo"`
	HasAudio   bool          `json:"hasAudio"`
}

// Result is a downloadable transcoded recording.
type Result struct {
	URL          string    `json:"url"`
	DownloadPath string    `json:"downloadPath,omitempty"`
	Filename     string    `json:"filename"`
	MIMEType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Media        MediaInfo `json:"media"`
	Created      time.Time `json:"created"`
}

// ResultFilename returns the download name for a result produced at t.
func ResultFilename(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "recorded_video_" + stamp + ".mp4"
}

// JobStatus is the terminal outcome of a transcode job.
type JobStatus string

const (
	JobStatusReady  JobStatus = "ready"
	JobStatusFailed JobStatus = "failed"
)

// RecordingSummary describes one finished recording and its transcode job.
type RecordingSummary struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Filename   string        `json:"filename,omitempty"`
	Size       int64         `json:"size"`
	InputBytes int64         `json:"inputBytes"`
	Duration   time.Duration `json:"durationNs"`
	Frames     int64         `json:"frames"`
	Chunks     int           `json:"chunks"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState   `json:"state"`
	Channel   ChannelState   `json:"channel"`
	Recording bool           `json:"recording"`
	Busy      bool           `json:"busy"`
	Frames    int64          `json:"frames"`
	Stats     RecordingStats `json:"stats"`
	Progress  int            `json:"progress"`
	Result    *Result        `json:"result,omitempty"`
	Message   string         `json:"message,omitempty"`
}
