package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"framerecorder/internal/domain"
	"framerecorder/internal/ports"
)

type fakeNotifier struct {
	notified []domain.RecordingSummary
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, summary domain.RecordingSummary) error {
	f.notified = append(f.notified, summary)
	return f.err
}

func TestResultFinalizerDeliver(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 19, 8, 43, 12, 345_000_000, time.UTC))
	store := newFakeStore()
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	f := newResultFinalizer(store, history, notifier, mock)

	job := transcodeJob{
		id:    "job-1",
		input: []byte("webm"),
		stats: domain.RecordingStats{Elapsed: 2 * time.Second, Chunks: 2, Frames: 60},
	}
	result := f.Deliver(context.Background(), job, ports.TranscodeOutput{Data: []byte("mp4")})

	if result.Filename != "recorded_video_2026-10-19T08-43-12-345Z.mp4" {
		t.Fatalf("unexpected filename: %q", result.Filename)
	}
	if string(store.get(result.URL)) != "mp4" {
		t.Fatalf("result was not stored")
	}
	if result.DownloadPath != "/recordings/1" {
		t.Fatalf("unexpected download path: %q", result.DownloadPath)
	}
	if len(history.snapshot()) != 1 || len(notifier.notified) != 1 {
		t.Fatalf("expected the job to be saved and announced once")
	}
	summary := notifier.notified[0]
	if summary.ID != "job-1" || summary.Status != domain.JobStatusReady || summary.InputBytes != 4 || summary.Frames != 60 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestResultFinalizerSideEffectFailuresAreNonFatal(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{err: errors.New("db down")}
	notifier := &fakeNotifier{err: errors.New("broker down")}
	f := newResultFinalizer(newFakeStore(), history, notifier, clock.NewMock())

	f.Fail(context.Background(), transcodeJob{id: "job-2"}, errors.New("transcode failed"))

	saved := history.snapshot()
	if len(saved) != 1 || saved[0].Status != domain.JobStatusFailed || saved[0].Error != "transcode failed" {
		t.Fatalf("unexpected history: %+v", saved)
	}
	if len(notifier.notified) != 1 {
		t.Fatalf("notifier must still be called when history fails")
	}
}

func TestResultFinalizerWithoutOptionalSinks(t *testing.T) {
	t.Parallel()

	f := newResultFinalizer(newFakeStore(), nil, nil, clock.NewMock())
	result := f.Deliver(context.Background(), transcodeJob{id: "job-3"}, ports.TranscodeOutput{Data: []byte("x")})
	if result.URL == "" {
		t.Fatalf("expected a url")
	}
}

func TestChunkBufferDrain(t *testing.T) {
	t.Parallel()

	b := newChunkBuffer()
	b.Add([]byte("ab"))
	b.Add(nil)
	b.Add([]byte("cde"))
	b.CountFrame()

	stats := b.Stats(time.Second)
	if stats.Bytes != 5 || stats.Chunks != 2 || stats.Frames != 1 || stats.Elapsed != time.Second {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := string(b.Drain()); got != "abcde" {
		t.Fatalf("unexpected joined input: %q", got)
	}
	if stats := b.Stats(0); stats.Bytes != 0 || stats.Chunks != 0 {
		t.Fatalf("drain must empty the buffer: %+v", stats)
	}
}
