package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"

	"framerecorder/internal/ports"
)

var (
	ErrEngineNotReady = errors.New("transcode engine is not loaded")
	ErrEngineBusy     = errors.New("transcode engine is busy with another job")
	ErrEmptyInput     = errors.New("no recorded data to transcode")
)

// Config controls the transcode engine.
type Config struct {
	Command string
	WorkDir string
}

// Engine runs transcode jobs through an ffmpeg process inside a private work directory.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	workDir string
	ownsDir bool
	loaded  bool

	jobMu sync.Mutex
}

func NewEngine(cfg Config) *Engine {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	return &Engine{cfg: cfg}
}

// Load verifies the toolkit and prepares the work directory. Calling it again is a no-op.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}

	out, err := exec.CommandContext(ctx, e.cfg.Command, "-hide_banner", "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to load transcoder %q: %w: %s", e.cfg.Command, err, bytes.TrimSpace(out))
	}

	dir := e.cfg.WorkDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "framerecorder-transcode-")
		if err != nil {
			return fmt.Errorf("failed to create transcode work dir: %w", err)
		}
		e.ownsDir = true
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create transcode work dir: %w", err)
	}

	e.workDir = dir
	e.loaded = true
	firstLine, _, _ := strings.Cut(string(out), "\n")
	logger.Debugf(ctx, "transcoder loaded: %s (work dir %s)", strings.TrimSpace(firstLine), dir)
	return nil
}

func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Busy reports whether a job is currently running.
func (e *Engine) Busy() bool {
	if e.jobMu.TryLock() {
		e.jobMu.Unlock()
		return false
	}
	return true
}

// Close releases the work directory. The engine must be loaded again before reuse.
func (e *Engine) Close() error {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil
	}
	e.loaded = false
	if e.ownsDir {
		return os.RemoveAll(e.workDir)
	}
	return nil
}

// Transcode converts the input into an MP4 with the fixed H.264/AAC pipeline.
// Progress is reported as 0..100; 100 is reported once, after the output has been verified.
func (e *Engine) Transcode(ctx context.Context, req ports.TranscodeRequest, progress func(int)) (ports.TranscodeOutput, error) {
	if len(req.Input) == 0 {
		return ports.TranscodeOutput{}, ErrEmptyInput
	}
	if !e.jobMu.TryLock() {
		return ports.TranscodeOutput{}, ErrEngineBusy
	}
	defer e.jobMu.Unlock()

	e.mu.Lock()
	loaded, dir := e.loaded, e.workDir
	e.mu.Unlock()
	if !loaded {
		return ports.TranscodeOutput{}, ErrEngineNotReady
	}
	if progress == nil {
		progress = func(int) {}
	}

	ext := strings.TrimPrefix(req.InputExt, ".")
	if ext == "" {
		ext = "webm"
	}
	jobID := uuid.NewString()
	inputPath := filepath.Join(dir, fmt.Sprintf("input_%s.%s", jobID, ext))
	outputPath := filepath.Join(dir, fmt.Sprintf("output_%s.mp4", jobID))
	defer func() {
		_ = os.Remove(inputPath)
		_ = os.Remove(outputPath)
	}()

	if err := os.WriteFile(inputPath, req.Input, 0o600); err != nil {
		return ports.TranscodeOutput{}, fmt.Errorf("failed to write transcode input: %w", err)
	}

	progress(0)
	if err := e.run(ctx, inputPath, outputPath, req.Duration, progress); err != nil {
		return ports.TranscodeOutput{}, err
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return ports.TranscodeOutput{}, fmt.Errorf("failed to read transcode output: %w", err)
	}
	info, err := ProbeMP4(data)
	if err != nil {
		return ports.TranscodeOutput{}, err
	}

	progress(100)
	logger.Debugf(ctx, "transcode job %s done: %d -> %d bytes", jobID, len(req.Input), len(data))
	return ports.TranscodeOutput{Data: data, Media: info}, nil
}

func (e *Engine) run(ctx context.Context, inputPath string, outputPath string, duration time.Duration, progress func(int)) error {
	cmd := exec.CommandContext(ctx, e.cfg.Command, pipelineArgs(inputPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create transcoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	tracker := progressTracker{total: duration, report: progress}
	tracker.consume(stdout)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("transcode cancelled: %w", ctxErr)
		}
		return fmt.Errorf("transcode failed: %w: %s", err, lastLines(stderr.String(), 5))
	}
	return nil
}

func pipelineArgs(inputPath string, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	}
}

// progressTracker turns ffmpeg -progress key=value lines into monotonic percentages below 100.
type progressTracker struct {
	total  time.Duration
	report func(int)
	last   int
}

func (p *progressTracker) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// ffmpeg reports microseconds under both keys.
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			p.observe(time.Duration(us) * time.Microsecond)
		case "progress":
			if value == "end" {
				p.update(99)
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func (p *progressTracker) observe(position time.Duration) {
	if p.total <= 0 || position <= 0 {
		return
	}
	p.update(int(position * 100 / p.total))
}

func (p *progressTracker) update(percent int) {
	if percent > 99 {
		percent = 99
	}
	if percent <= p.last {
		return
	}
	p.last = percent
	p.report(percent)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
