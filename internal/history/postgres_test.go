package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"framerecorder/internal/domain"
)

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), ""); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("expected ErrNoDSN, got %v", err)
	}
}

func TestNullHelpers(t *testing.T) {
	t.Parallel()

	if nullString("").Valid || !nullString("x").Valid {
		t.Fatalf("unexpected nullString validity")
	}
	if nullTime(time.Time{}).Valid || !nullTime(time.Now()).Valid {
		t.Fatalf("unexpected nullTime validity")
	}
}

func TestRepositorySaveAndRecent(t *testing.T) {
	dsn := os.Getenv("FRAMEREC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRAMEREC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	repo, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
	summary := domain.RecordingSummary{
		ID:         id,
		Status:     domain.JobStatusFailed,
		Duration:   2500 * time.Millisecond,
		Frames:     75,
		Chunks:     3,
		Error:      "encoder exited with code 1",
		StartedAt:  now.Add(-3 * time.Second),
		FinishedAt: now,
	}
	if err := repo.Save(ctx, summary); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	summary.Status = domain.JobStatusReady
	summary.Error = ""
	summary.Filename = "recorded_video_x.mp4"
	if err := repo.Save(ctx, summary); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	recent, err := repo.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) == 0 || recent[0].ID != id {
		t.Fatalf("expected saved recording first, got %+v", recent)
	}
	got := recent[0]
	if got.Status != domain.JobStatusReady || got.Error != "" || got.Filename != "recorded_video_x.mp4" || got.Duration != summary.Duration {
		t.Fatalf("unexpected stored summary: %+v", got)
	}
}
