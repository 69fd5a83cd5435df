package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"

	"framerecorder/internal/ports"
)

var (
	ErrUnsupportedCodec = errors.New("encoder does not support the requested container/codec")
	ErrEncoderStopped   = errors.New("encoder is stopped")
	ErrFrameSize        = errors.New("frame size does not match encoder configuration")
)

// codecEncoders maps a recording codec to the ffmpeg encoder that produces it.
var codecEncoders = map[string]string{
	"vp8":  "libvpx",
	"vp9":  "libvpx-vp9",
	"h264": "libx264",
}

var containerFormats = map[string]string{
	"webm": "webm",
	"mp4":  "mp4",
	"mkv":  "matroska",
}

// FFMPEGEncoder encodes raw RGBA frames using an ffmpeg child process.
type FFMPEGEncoder struct {
	command string
	clock   clock.Clock

	probeMu sync.Mutex
	probed  map[string]bool
}

func NewFFMPEGEncoder(command string, clk clock.Clock) *FFMPEGEncoder {
	if command == "" {
		command = "ffmpeg"
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FFMPEGEncoder{command: command, clock: clk, probed: map[string]bool{}}
}

// ParseMIMEType splits a recorder MIME type such as "video/webm;codecs=vp8".
func ParseMIMEType(mimeType string) (container string, codec string, err error) {
	mimeType = strings.ToLower(strings.ReplaceAll(mimeType, " ", ""))
	base, params, _ := strings.Cut(mimeType, ";")
	kind, container, ok := strings.Cut(base, "/")
	if !ok || kind != "video" || container == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, mimeType)
	}
	for _, param := range strings.Split(params, ";") {
		if value, ok := strings.CutPrefix(param, "codecs="); ok {
			codec = strings.Trim(value, `"`)
			codec, _, _ = strings.Cut(codec, ",")
		}
	}
	if codec == "" {
		codec = "vp8"
	}
	return container, codec, nil
}

func (e *FFMPEGEncoder) Start(ctx context.Context, cfg ports.EncoderConfig) (ports.EncoderSession, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Container == "" {
		cfg.Container = "webm"
	}
	if cfg.Codec == "" {
		cfg.Codec = "vp8"
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = time.Second
	}

	format, ok := containerFormats[cfg.Container]
	if !ok {
		return nil, fmt.Errorf("%w: container %q", ErrUnsupportedCodec, cfg.Container)
	}
	codecName, ok := codecEncoders[cfg.Codec]
	if !ok {
		return nil, fmt.Errorf("%w: codec %q", ErrUnsupportedCodec, cfg.Codec)
	}
	if err := e.ensureEncoder(ctx, codecName); err != nil {
		return nil, err
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FrameRate),
		"-i", "pipe:0",
		"-an",
		"-c:v", codecName,
		"-pix_fmt", "yuv420p",
	}
	if format == "mp4" {
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}
	args = append(args, "-f", format, "pipe:1")

	cmd := exec.Command(e.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	waitErr := make(chan error, 1)
	s := &encoderSession{
		cfg:       cfg,
		frameSize: cfg.Width * cfg.Height * 4,
		stdin:     stdin,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		chunks:    make(chan []byte, 64),
		collected: make(chan struct{}),
	}
	go s.collect(ctx, stdout, e.clock)
	go func() {
		<-s.collected
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("encoder exited before recording started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("encoder exited before recording started")
	case <-time.After(250 * time.Millisecond):
	}

	logger.Debugf(ctx, "encoder started: %s %dx%d@%d -> %s/%s", codecName, cfg.Width, cfg.Height, cfg.FrameRate, cfg.Container, cfg.Codec)
	return s, nil
}

// ensureEncoder checks once per codec that the ffmpeg build ships the encoder.
func (e *FFMPEGEncoder) ensureEncoder(ctx context.Context, codecName string) error {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if available, ok := e.probed[codecName]; ok {
		if !available {
			return fmt.Errorf("%w: %s", ErrUnsupportedCodec, codecName)
		}
		return nil
	}

	out, err := exec.CommandContext(ctx, e.command, "-hide_banner", "-encoders").Output()
	if err != nil {
		return fmt.Errorf("failed to probe encoder %q: %w", e.command, err)
	}
	available := false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == codecName {
			available = true
			break
		}
	}
	e.probed[codecName] = available
	if !available {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, codecName)
	}
	return nil
}

type encoderSession struct {
	cfg       ports.EncoderConfig
	frameSize int

	writeMu sync.Mutex
	stdin   io.WriteCloser
	stopped bool

	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	chunks    chan []byte
	collected chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *encoderSession) Chunks() <-chan []byte {
	return s.chunks
}

func (s *encoderSession) WriteFrame(frame *image.RGBA) error {
	if frame == nil {
		return nil
	}
	if len(frame.Pix) != s.frameSize || frame.Stride != s.cfg.Width*4 {
		return fmt.Errorf("%w: got %v", ErrFrameSize, frame.Bounds())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stopped {
		return ErrEncoderStopped
	}
	if _, err := s.stdin.Write(frame.Pix); err != nil {
		return fmt.Errorf("failed to write frame to encoder: %w", err)
	}
	return nil
}

// Stop closes the encoder input and waits until the final chunk has been flushed.
func (s *encoderSession) Stop() error {
	s.stopOnce.Do(func() {
		s.writeMu.Lock()
		s.stopped = true
		closeErr := s.stdin.Close()
		s.writeMu.Unlock()

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(5 * time.Second):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})
	return s.stopErr
}

// collect slices encoder output into chunks, one per interval, plus a final flush at EOF.
func (s *encoderSession) collect(ctx context.Context, stdout io.Reader, clk clock.Clock) {
	defer close(s.collected)
	defer close(s.chunks)

	data := make(chan []byte)
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				data <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				readDone <- err
				return
			}
		}
	}()

	ticker := clk.Ticker(s.cfg.ChunkInterval)
	defer ticker.Stop()

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.chunks <- pending
		pending = nil
	}

	for {
		select {
		case b := <-data:
			pending = append(pending, b...)
		case <-ticker.C:
			flush()
		case err := <-readDone:
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.Warnf(ctx, "encoder output read failed: %v", err)
			}
			flush()
			return
		}
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("encoder exited with code %d", exitErr.ExitCode())
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
