package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"framerecorder/internal/bootstrap"
	"framerecorder/internal/domain"
	"framerecorder/internal/scene"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonStartup:            "Ready",
		domain.SessionReasonChannelConnecting:  "Connecting...",
		domain.SessionReasonChannelOpen:        "Connected",
		domain.SessionReasonChannelFailed:      "Connection error",
		domain.SessionReasonChannelClosed:      "Disconnected",
		domain.SessionReasonDisconnected:       "Disconnected",
		domain.SessionReasonRecordingStarted:   "Recording...",
		domain.SessionReasonRecordingStopped:   "Recording stopped",
		domain.SessionReasonRecordingForced:    "Recording stopped (connection lost)",
		domain.SessionReasonEncoderUnavailable: "Recording unavailable",
		domain.SessionReasonTranscoding:        "Converting to MP4...",
		domain.SessionReasonTranscodeDone:      "Conversion complete",
		domain.SessionReasonTranscodeFailed:    "Conversion failed",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:      "Startup failed",
		domain.ErrorCodeConnectivity: "Connection error",
		domain.ErrorCodeEncoder:      "Recording could not start",
		domain.ErrorCodeTranscode:    "Conversion failed",
		domain.ErrorCodeDelivery:     "Saving the recording failed",
		domain.ErrorCodeScene:        "Scene issue",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestChannelMessage(t *testing.T) {
	t.Parallel()

	if got := channelMessage(domain.ChannelStateError); got != "Connection error" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := channelMessage("unknown"); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartRecording(); !errors.Is(err, bootErr) {
		t.Fatalf("bindings must report the boot error, got %v", err)
	}
	if _, err := app.RegenerateEntryScene("e1"); !errors.Is(err, bootErr) {
		t.Fatalf("entry bindings must report the boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Recording {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateFailed || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}

func TestServeHTTPBeforeStartup(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	(&App{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview/canvas.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before startup, got %d", rec.Code)
	}
}

func TestLoadSceneReportsDroppedElements(t *testing.T) {
	t.Parallel()

	app := &App{services: bootstrap.Services{Scenes: scene.NewLoader()}}
	view, err := app.LoadScene(`
name: desk
objects:
  - id: lamp
    geometry: {kind: cylinder}
    children:
      - id: shade
        geometry: {kind: cone}
  - id: ghost
    geometry: {kind: teapot}
`)
	if err != nil {
		t.Fatalf("partial scenes must load: %v", err)
	}
	if view.Name != "desk" || view.Objects != 2 || len(view.Nodes) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Nodes[1].ID != "shade" || view.Nodes[1].Parent != "lamp" || view.Nodes[1].Depth != 2 || view.Nodes[1].Kind != "cone" {
		t.Fatalf("unexpected child node: %+v", view.Nodes[1])
	}
	if len(view.Issues) != 1 || !strings.Contains(view.Issues[0], "teapot") {
		t.Fatalf("unexpected issues: %+v", view.Issues)
	}
}

func TestLoadSceneRejectsUnreadableDocument(t *testing.T) {
	t.Parallel()

	app := &App{services: bootstrap.Services{Scenes: scene.NewLoader()}}
	if _, err := app.LoadScene("objects: [unterminated"); !errors.Is(err, scene.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if _, err := (&App{}).LoadScene("name: x"); err == nil {
		t.Fatalf("expected not initialized error")
	}
}
