package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
)

var (
	ErrInvalidBaseURL = errors.New("invalid backend base url")
	ErrTaskFailed     = errors.New("analysis task failed")
)

const (
	defaultTimeout      = 2 * time.Minute
	defaultPollInterval = 2 * time.Second
	maxErrorBody        = 4 << 10
)

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// APIError is a non-2xx answer. Detail carries the server's "detail" field when present.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

type UploadResponse struct {
	TaskID  string `json:"task_id"`
	VideoID string `json:"video_id"`
	Message string `json:"message"`
}

type TaskStatus struct {
	Status TaskState `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Angles holds one value per capture angle (front, side, back, top).
type Angles struct {
	Front string `json:"front,omitempty"`
	Side  string `json:"side,omitempty"`
	Back  string `json:"back,omitempty"`
	Top   string `json:"top,omitempty"`
}

type Result struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Timestamps  Angles `json:"timestamps"`
	Screenshots Angles `json:"screenshots"`
	SceneSource string `json:"threejs_code,omitempty"`
	VideoID     string `json:"video_id,omitempty"`
}

type SceneResponse struct {
	EntryID     string `json:"entry_id"`
	SceneSource string `json:"threejs_code"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

type Analysis struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Step        string `json:"step,omitempty"`
	Percent     int    `json:"percent,omitempty"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	VideoID     string `json:"video_id,omitempty"`
}

// JobStatus is the progress report of a processing job.
type JobStatus struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Step    string `json:"step,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Game is the generated viewer bundle of a completed job.
type Game struct {
	JobID             string `json:"job_id"`
	GameHTML          string `json:"game_html,omitempty"`
	GLTFURL           string `json:"gltf_url,omitempty"`
	ObjectDescription string `json:"object_description,omitempty"`
	OpenSCADCode      string `json:"openscad_code,omitempty"`
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type Entry struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id,omitempty"`
	Description string   `json:"description,omitempty"`
	Timestamps  []string `json:"timestamps,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	VideoURL    string   `json:"video_url,omitempty"`
	SceneSource string   `json:"threejs_code,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

type Config struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Clock        clock.Clock
}

// Client talks to the analysis backend.
type Client struct {
	base         *url.URL
	http         *http.Client
	pollInterval time.Duration
	clock        clock.Clock
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}
	c := &Client{base: base, http: cfg.HTTPClient, pollInterval: cfg.PollInterval, clock: cfg.Clock}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	return c, nil
}

// UploadVideo sends a recording as multipart field "video".
func (c *Client) UploadVideo(ctx context.Context, filename string, video io.Reader) (UploadResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("video", filename)
	if err != nil {
		return UploadResponse{}, err
	}
	if _, err := io.Copy(part, video); err != nil {
		return UploadResponse{}, fmt.Errorf("read video: %w", err)
	}
	if err := form.Close(); err != nil {
		return UploadResponse{}, err
	}

	var out UploadResponse
	err = c.do(ctx, http.MethodPost, "/upload_video", form.FormDataContentType(), &body, &out)
	return out, err
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var out TaskStatus
	err := c.getJSON(ctx, "/status/"+url.PathEscape(taskID), &out)
	return out, err
}

// WaitForTask polls the task until it completes or fails. A failed task returns ErrTaskFailed.
func (c *Client) WaitForTask(ctx context.Context, taskID string) (TaskStatus, error) {
	ticker := c.clock.Ticker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return status, err
		}
		switch status.Status {
		case TaskCompleted:
			return status, nil
		case TaskFailed:
			return status, fmt.Errorf("%w: %s", ErrTaskFailed, status.Error)
		}
		logger.Debugf(ctx, "task %s still %s", taskID, status.Status)

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Result(ctx context.Context, taskID string) (Result, error) {
	var out Result
	err := c.getJSON(ctx, "/result/"+url.PathEscape(taskID), &out)
	return out, err
}

// GenerateScene asks the backend for a scene description of the task's object.
func (c *Client) GenerateScene(ctx context.Context, taskID string) (SceneResponse, error) {
	var out SceneResponse
	err := c.do(ctx, http.MethodPost, "/generate_3d_model/"+url.PathEscape(taskID), "", nil, &out)
	return out, err
}

// GenerateSceneFromEntry regenerates the scene description of a saved entry.
func (c *Client) GenerateSceneFromEntry(ctx context.Context, entryID string) (SceneResponse, error) {
	var out SceneResponse
	err := c.do(ctx, http.MethodPost, "/generate_3d_model_from_entry/"+url.PathEscape(entryID), "", nil, &out)
	return out, err
}

// ResultFromEntry returns a saved entry in the shape of a task result.
func (c *Client) ResultFromEntry(ctx context.Context, entryID string) (Result, error) {
	var out Result
	err := c.getJSON(ctx, "/result-from-entry/"+url.PathEscape(entryID), &out)
	return out, err
}

func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var out JobStatus
	err := c.getJSON(ctx, "/job_status/"+url.PathEscape(jobID), &out)
	return out, err
}

func (c *Client) Game(ctx context.Context, jobID string) (Game, error) {
	var out Game
	err := c.getJSON(ctx, "/game/"+url.PathEscape(jobID), &out)
	return out, err
}

func (c *Client) Analysis(ctx context.Context, jobID string) (Analysis, error) {
	var out Analysis
	err := c.getJSON(ctx, "/analysis/"+url.PathEscape(jobID), &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, "/health", &out)
	return out, err
}

func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	var out struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	if err := c.getJSON(ctx, "/model-entries", &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) GetEntry(ctx context.Context, id string) (Entry, error) {
	var out Entry
	err := c.getJSON(ctx, "/model-entries/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) UpdateEntry(ctx context.Context, id string, updates map[string]any) (Entry, error) {
	payload, err := json.Marshal(updates)
	if err != nil {
		return Entry{}, err
	}
	var out Entry
	err = c.do(ctx, http.MethodPut, "/model-entries/"+url.PathEscape(id), "application/json", bytes.NewReader(payload), &out)
	return out, err
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/model-entries/"+url.PathEscape(id), "", nil, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	endpoint := c.base.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logger.Debugf(ctx, "backend %s %s", method, endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &payload) == nil && len(payload.Detail) > 0 {
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = string(payload.Detail)
		}
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(raw))
	return apiErr
}
