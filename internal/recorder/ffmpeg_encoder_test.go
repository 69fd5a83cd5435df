package recorder

import (
	"context"
	"errors"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"framerecorder/internal/ports"
)

const encodersProbe = `for a in "$@"; do
  if [ "$a" = "-encoders" ]; then
    echo " V....D libvpx               libvpx VP8 (codec vp8)"
    echo " V....D libx264              libx264 H.264 (codec h264)"
    exit 0
  fi
done
`

func TestParseMIMEType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		container string
		codec     string
	}{
		{in: "video/webm;codecs=vp8", container: "webm", codec: "vp8"},
		{in: "video/webm; codecs=\"vp9,opus\"", container: "webm", codec: "vp9"},
		{in: "video/mp4;codecs=h264", container: "mp4", codec: "h264"},
		{in: "video/webm", container: "webm", codec: "vp8"},
	}
	for _, tc := range cases {
		container, codec, err := ParseMIMEType(tc.in)
		if err != nil {
			t.Fatalf("ParseMIMEType(%q): %v", tc.in, err)
		}
		if container != tc.container || codec != tc.codec {
			t.Fatalf("ParseMIMEType(%q) = %s/%s", tc.in, container, codec)
		}
	}

	for _, bad := range []string{"", "audio/webm", "video/"} {
		if _, _, err := ParseMIMEType(bad); !errors.Is(err, ErrUnsupportedCodec) {
			t.Fatalf("expected ErrUnsupportedCodec for %q, got %v", bad, err)
		}
	}
}

func TestFFMPEGEncoderWritesFramesAndFlushesOnStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encoder.sh", "#!/usr/bin/env bash\n"+encodersProbe+"cat\n")
	enc := NewFFMPEGEncoder(script, nil)

	session, err := enc.Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2, FrameRate: 30, ChunkInterval: time.Hour})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 3; i++ {
		if err := session.WriteFrame(frame); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	total := 0
	chunks := 0
	for chunk := range session.Chunks() {
		chunks++
		total += len(chunk)
	}
	if total != 3*2*2*4 {
		t.Fatalf("expected %d encoded bytes, got %d", 3*2*2*4, total)
	}
	if chunks != 1 {
		t.Fatalf("expected a single final chunk, got %d", chunks)
	}

	if err := session.WriteFrame(frame); !errors.Is(err, ErrEncoderStopped) {
		t.Fatalf("expected ErrEncoderStopped after stop, got %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestFFMPEGEncoderEmitsChunksPerInterval(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encoder.sh", "#!/usr/bin/env bash\n"+encodersProbe+"cat\n")
	session, err := NewFFMPEGEncoder(script, nil).Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2, ChunkInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if err := session.WriteFrame(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := <-session.Chunks()
	if len(first) != 16 {
		t.Fatalf("expected first chunk of 16 bytes, got %d", len(first))
	}

	if err := session.WriteFrame(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rest := 0
	for chunk := range session.Chunks() {
		rest += len(chunk)
	}
	if rest != 16 {
		t.Fatalf("expected remaining 16 bytes, got %d", rest)
	}
}

func TestFFMPEGEncoderRejectsFrameOfWrongSize(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encoder.sh", "#!/usr/bin/env bash\n"+encodersProbe+"cat\n")
	session, err := NewFFMPEGEncoder(script, nil).Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = session.Stop() }()

	if err := session.WriteFrame(image.NewRGBA(image.Rect(0, 0, 3, 3))); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
}

func TestFFMPEGEncoderUnsupportedCodec(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encoder.sh", "#!/usr/bin/env bash\n"+encodersProbe+"cat\n")
	enc := NewFFMPEGEncoder(script, nil)

	if _, err := enc.Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2, Codec: "vp9"}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec for missing libvpx-vp9, got %v", err)
	}
	if _, err := enc.Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2, Codec: "av1"}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec for unknown codec, got %v", err)
	}
	if _, err := enc.Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2, Container: "ogg"}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec for unknown container, got %v", err)
	}
}

func TestFFMPEGEncoderStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\n"+encodersProbe+"echo 'boom' 1>&2\nexit 1\n")
	_, err := NewFFMPEGEncoder(script, nil).Start(context.Background(), ports.EncoderConfig{Width: 2, Height: 2})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before recording started") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeStopErrReportsExitCode(t *testing.T) {
	t.Parallel()

	if got := normalizeStopErr(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	err := exec.Command("bash", "-c", "exit 3").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got == nil || !strings.Contains(got.Error(), "code 3") {
		t.Fatalf("unexpected normalized error: %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
