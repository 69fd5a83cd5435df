package bootstrap

import (
	"context"
	"testing"

	"github.com/facebookincubator/go-belt/tool/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel(" debug ")
	if err != nil || level != logger.LevelDebug {
		t.Fatalf("unexpected level %v (%v)", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWithLoggerFallsBackToWarning(t *testing.T) {
	t.Parallel()

	ctx := WithLogger(context.Background(), "loud")
	if got := logger.FromCtx(ctx).Level(); got != logger.LevelWarning {
		t.Fatalf("expected warning level, got %v", got)
	}
}
