package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"framerecorder/internal/backend"
	"framerecorder/internal/bootstrap"
	"framerecorder/internal/config"
	"framerecorder/internal/delivery"
	"framerecorder/internal/domain"
	"framerecorder/internal/scene"
)

const (
	eventSession   = "framerecorder:session"
	eventChannel   = "framerecorder:channel"
	eventFrame     = "framerecorder:frame"
	eventRecording = "framerecorder:recording"
	eventTranscode = "framerecorder:transcode"
	eventResult    = "framerecorder:result"
	eventScene     = "framerecorder:scene"
	eventError     = "framerecorder:error"
)

var errNoResult = errors.New("no recording is ready")

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	cfg      config.Config
	bootErr  error

	handlerMu sync.RWMutex
	handler   http.Handler
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	cfg, err := config.Load()
	if err != nil {
		a.ctx = ctx
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.ctx = bootstrap.WithLogger(ctx, cfg.Log.Level)

	services, err := bootstrap.BuildWithConfig(a.ctx, cfg, a, bootstrap.Options{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = cfg
	a.services = services
	a.handlerMu.Lock()
	a.handler = services.Handler
	a.handlerMu.Unlock()
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartup)
}

func (a *App) shutdown(ctx context.Context) {
	if err := a.services.Close(ctx); err != nil {
		logger.Warnf(ctx, "shutdown: %v", err)
	}
}

// ServeHTTP serves the live preview and stored recordings to the webview.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handlerMu.RLock()
	h := a.handler
	a.handlerMu.RUnlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// Connect opens the frame channel. An empty url uses the configured one.
func (a *App) Connect(url string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Connect(a.ctx, url); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// Disconnect closes the channel. A running recording is stopped and transcoded first.
func (a *App) Disconnect() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	_, err := a.services.Controller.Disconnect(a.ctx)
	return a.services.Controller.Status(), err
}

func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Controller.StartRecording(a.ctx)
	return a.services.Controller.Status(), err
}

// StopRecording stops and transcodes the recording and returns the downloadable result.
func (a *App) StopRecording() (*domain.Result, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Controller.StopRecording(a.ctx)
}

// SaveRecording asks for a destination and writes the latest result there.
// It returns the chosen path, or "" when the dialog was cancelled.
func (a *App) SaveRecording() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	obj, err := a.latestObject()
	if err != nil {
		return "", err
	}

	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		DefaultFilename: obj.Filename,
		Filters:         []runtime.FileFilter{{DisplayName: "MP4 video (*.mp4)", Pattern: "*.mp4"}},
	})
	if err != nil || path == "" {
		return "", err
	}
	if err := os.WriteFile(path, obj.Data, 0o644); err != nil {
		a.SessionError(domain.ErrorCodeDelivery, err.Error())
		return "", err
	}
	logger.Debugf(a.ctx, "saved %s (%d bytes)", path, len(obj.Data))
	return path, nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services.Controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateFailed, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Channel: domain.ChannelStateDisconnected}
	}
	return a.services.Controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"channelURL":    a.cfg.Channel.URL,
		"canvas":        fmt.Sprintf("%dx%d", a.cfg.Canvas.Width, a.cfg.Canvas.Height),
		"mimeType":      a.cfg.Recorder.MIMEType,
		"frameRate":     strconv.Itoa(a.cfg.Recorder.FrameRate),
		"chunkInterval": a.cfg.Recorder.ChunkInterval.String(),
		"backendURL":    a.cfg.Backend.BaseURL,
		"history":       strconv.FormatBool(a.cfg.History.PostgresDSN != ""),
		"notifications": strconv.FormatBool(a.cfg.Notify.AMQPURL != ""),
	}
}

// SceneView is what the viewer needs to build a loaded scene.
type SceneView struct {
	Name     string          `json:"name"`
	Objects  int             `json:"objects"`
	Tracks   int             `json:"tracks"`
	Duration float64         `json:"duration"`
	Nodes    []SceneNodeView `json:"nodes"`
	Issues   []string        `json:"issues,omitempty"`
}

type SceneNodeView struct {
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
	Kind   string `json:"kind"`
	Depth  int    `json:"depth"`
}

// LoadScene validates a scene description. Dropped elements are reported as issues
// next to the surviving graph; only an unreadable document is an error.
func (a *App) LoadScene(source string) (SceneView, error) {
	if a.services.Scenes == nil {
		return SceneView{}, a.notReady()
	}
	ctx := a.context()
	graph, err := a.services.Scenes.Load(ctx, []byte(source))
	if graph == nil {
		a.SessionError(domain.ErrorCodeScene, err.Error())
		return SceneView{}, err
	}

	view := sceneView(graph, err)
	if len(view.Issues) > 0 {
		a.SessionError(domain.ErrorCodeScene, fmt.Sprintf("%d scene elements dropped", len(view.Issues)))
	}
	a.emit(eventScene, view)
	return view, nil
}

// AnalysisView is the outcome of sending the latest recording to the backend.
type AnalysisView struct {
	TaskID      string         `json:"taskId"`
	Description string         `json:"description"`
	Screenshots backend.Angles `json:"screenshots"`
	EntryID     string         `json:"entryId,omitempty"`
	Scene       *SceneView     `json:"scene,omitempty"`
}

// AnalyzeRecording uploads the latest result, waits for the analysis and loads the generated scene.
func (a *App) AnalyzeRecording() (AnalysisView, error) {
	if err := a.requireReady(); err != nil {
		return AnalysisView{}, err
	}
	obj, err := a.latestObject()
	if err != nil {
		return AnalysisView{}, err
	}

	client := a.services.Backend
	upload, err := client.UploadVideo(a.ctx, obj.Filename, bytes.NewReader(obj.Data))
	if err != nil {
		return AnalysisView{}, err
	}
	if _, err := client.WaitForTask(a.ctx, upload.TaskID); err != nil {
		return AnalysisView{TaskID: upload.TaskID}, err
	}
	result, err := client.Result(a.ctx, upload.TaskID)
	if err != nil {
		return AnalysisView{TaskID: upload.TaskID}, err
	}

	view := AnalysisView{TaskID: upload.TaskID, Description: result.Description, Screenshots: result.Screenshots}
	generated, err := client.GenerateScene(a.ctx, upload.TaskID)
	if err != nil {
		return view, err
	}
	view.EntryID = generated.EntryID
	scn, err := a.LoadScene(generated.SceneSource)
	if err != nil {
		return view, err
	}
	view.Scene = &scn
	return view, nil
}

// RegenerateEntryScene asks the backend for a fresh scene description of a saved entry and loads it.
func (a *App) RegenerateEntryScene(entryID string) (AnalysisView, error) {
	if err := a.requireReady(); err != nil {
		return AnalysisView{}, err
	}

	client := a.services.Backend
	result, err := client.ResultFromEntry(a.ctx, entryID)
	if err != nil {
		return AnalysisView{}, err
	}
	view := AnalysisView{TaskID: result.TaskID, Description: result.Description, Screenshots: result.Screenshots, EntryID: entryID}
	generated, err := client.GenerateSceneFromEntry(a.ctx, entryID)
	if err != nil {
		return view, err
	}
	scn, err := a.LoadScene(generated.SceneSource)
	if err != nil {
		return view, err
	}
	view.Scene = &scn
	return view, nil
}

func (a *App) ListEntries() ([]backend.Entry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Backend.ListEntries(a.ctx)
}

func (a *App) DeleteEntry(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Backend.DeleteEntry(a.ctx, id)
}

func (a *App) latestObject() (delivery.Object, error) {
	result := a.services.Controller.Result()
	if result == nil {
		return delivery.Object{}, errNoResult
	}
	obj, err := a.services.Store.Open(result.URL)
	if err != nil {
		a.SessionError(domain.ErrorCodeDelivery, err.Error())
		return delivery.Object{}, err
	}
	return obj, nil
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return a.notReady()
	}
	return nil
}

func (a *App) notReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	return fmt.Errorf("application is not initialized")
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emit(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

func (a *App) ChannelStateChanged(state domain.ChannelState) {
	a.emit(eventChannel, map[string]string{
		"state":   string(state),
		"message": channelMessage(state),
	})
}

func (a *App) FrameRendered(count int64) {
	a.emit(eventFrame, map[string]int64{"frames": count})
}

// RecordingProgress emits the MM:SS timer and MB size labels.
func (a *App) RecordingProgress(stats domain.RecordingStats) {
	a.emit(eventRecording, map[string]any{
		"elapsed": stats.ElapsedLabel(),
		"size":    stats.SizeLabel(),
		"chunks":  stats.Chunks,
		"frames":  stats.Frames,
	})
}

func (a *App) TranscodeProgress(percent int) {
	a.emit(eventTranscode, map[string]int{"percent": percent})
}

func (a *App) ResultReady(result domain.Result) {
	a.emit(eventResult, result)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sceneView(graph *scene.Graph, loadErr error) SceneView {
	view := SceneView{
		Name:     graph.Name,
		Objects:  graph.Len(),
		Tracks:   len(graph.Tracks()),
		Duration: graph.Duration(),
	}
	graph.Walk(func(n *scene.Node, depth int) {
		node := SceneNodeView{ID: n.ID, Kind: n.Shape.Kind(), Depth: depth}
		if n.Parent != nil {
			node.Parent = n.Parent.ID
		}
		view.Nodes = append(view.Nodes, node)
	})

	var merr *multierror.Error
	if errors.As(loadErr, &merr) {
		for _, issue := range merr.Errors {
			view.Issues = append(view.Issues, issue.Error())
		}
	} else if loadErr != nil {
		view.Issues = []string{loadErr.Error()}
	}
	return view
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStartup:
		return "Ready"
	case domain.SessionReasonChannelConnecting:
		return "Connecting..."
	case domain.SessionReasonChannelOpen:
		return "Connected"
	case domain.SessionReasonChannelFailed:
		return "Connection error"
	case domain.SessionReasonChannelClosed:
		return "Disconnected"
	case domain.SessionReasonDisconnected:
		return "Disconnected"
	case domain.SessionReasonRecordingStarted:
		return "Recording..."
	case domain.SessionReasonRecordingStopped:
		return "Recording stopped"
	case domain.SessionReasonRecordingForced:
		return "Recording stopped (connection lost)"
	case domain.SessionReasonEncoderUnavailable:
		return "Recording unavailable"
	case domain.SessionReasonTranscoding:
		return "Converting to MP4..."
	case domain.SessionReasonTranscodeDone:
		return "Conversion complete"
	case domain.SessionReasonTranscodeFailed:
		return "Conversion failed"
	default:
		return ""
	}
}

func channelMessage(state domain.ChannelState) string {
	switch state {
	case domain.ChannelStateConnecting:
		return "Connecting..."
	case domain.ChannelStateConnected:
		return "Connected"
	case domain.ChannelStateError:
		return "Connection error"
	case domain.ChannelStateDisconnected:
		return "Disconnected"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeConnectivity:
		return "Connection error"
	case domain.ErrorCodeEncoder:
		return "Recording could not start"
	case domain.ErrorCodeTranscode:
		return "Conversion failed"
	case domain.ErrorCodeDelivery:
		return "Saving the recording failed"
	case domain.ErrorCodeScene:
		return "Scene issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
