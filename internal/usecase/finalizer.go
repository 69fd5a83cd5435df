package usecase

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"

	"framerecorder/internal/domain"
	"framerecorder/internal/ports"
)

const resultMIMEType = "video/mp4"

type resultFinalizer struct {
	store    ports.ObjectStore
	history  ports.HistoryStore
	notifier ports.Notifier
	clock    clock.Clock
}

func newResultFinalizer(store ports.ObjectStore, history ports.HistoryStore, notifier ports.Notifier, clk clock.Clock) resultFinalizer {
	return resultFinalizer{store: store, history: history, notifier: notifier, clock: clk}
}

// Deliver stores the transcoded bytes and builds the downloadable result.
func (f resultFinalizer) Deliver(ctx context.Context, job transcodeJob, out ports.TranscodeOutput) domain.Result {
	now := f.clock.Now().UTC()
	result := domain.Result{
		Filename: domain.ResultFilename(now),
		MIMEType: resultMIMEType,
		Size:     int64(len(out.Data)),
		Media:    out.Media,
		Created:  now,
	}
	result.URL = f.store.Create(out.Data, resultMIMEType, result.Filename)
	result.DownloadPath = f.store.Path(result.URL)

	f.record(ctx, domain.RecordingSummary{
		ID:         job.id,
		Status:     domain.JobStatusReady,
		Filename:   result.Filename,
		Size:       result.Size,
		InputBytes: int64(len(job.input)),
		Duration:   job.stats.Elapsed,
		Frames:     job.stats.Frames,
		Chunks:     job.stats.Chunks,
		StartedAt:  job.started,
		FinishedAt: now,
	})
	return result
}

// Fail records a job that produced no result.
func (f resultFinalizer) Fail(ctx context.Context, job transcodeJob, cause error) {
	f.record(ctx, domain.RecordingSummary{
		ID:         job.id,
		Status:     domain.JobStatusFailed,
		InputBytes: int64(len(job.input)),
		Duration:   job.stats.Elapsed,
		Frames:     job.stats.Frames,
		Chunks:     job.stats.Chunks,
		Error:      cause.Error(),
		StartedAt:  job.started,
		FinishedAt: f.clock.Now().UTC(),
	})
}

// record persists and announces a finished job. Failures are logged only.
func (f resultFinalizer) record(ctx context.Context, summary domain.RecordingSummary) {
	if f.history != nil {
		if err := f.history.Save(ctx, summary); err != nil {
			logger.Warnf(ctx, "unable to save recording %s to history: %v", summary.ID, err)
		}
	}
	if f.notifier != nil {
		if err := f.notifier.Notify(ctx, summary); err != nil {
			logger.Warnf(ctx, "unable to publish recording %s: %v", summary.ID, err)
		}
	}
}
