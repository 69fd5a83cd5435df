package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	_ "github.com/lib/pq"

	"framerecorder/internal/domain"
)

var ErrNoDSN = errors.New("postgres dsn is empty")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		filename TEXT,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		input_bytes BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		frames BIGINT NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status)`,
}

// Repository stores finished recordings in PostgreSQL.
type Repository struct {
	db *sql.DB
}

// Open connects, pings and migrates.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	logger.Debugf(ctx, "recording history connected")
	return &Repository{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Save inserts or replaces the summary with the same id.
func (r *Repository) Save(ctx context.Context, s domain.RecordingSummary) error {
	createdAt := s.FinishedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings (id, status, filename, size_bytes, input_bytes, duration_ms, frames, chunks, error, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filename = EXCLUDED.filename,
			size_bytes = EXCLUDED.size_bytes,
			input_bytes = EXCLUDED.input_bytes,
			duration_ms = EXCLUDED.duration_ms,
			frames = EXCLUDED.frames,
			chunks = EXCLUDED.chunks,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			created_at = EXCLUDED.created_at`,
		s.ID, string(s.Status), nullString(s.Filename), s.Size, s.InputBytes, s.Duration.Milliseconds(),
		s.Frames, s.Chunks, nullString(s.Error), nullTime(s.StartedAt), createdAt,
	)
	if err != nil {
		return fmt.Errorf("save recording %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns the newest summaries first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.RecordingSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, filename, size_bytes, input_bytes, duration_ms, frames, chunks, error, started_at, created_at
		FROM recordings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []domain.RecordingSummary
	for rows.Next() {
		var (
			s                 domain.RecordingSummary
			status            string
			filename, errText sql.NullString
			durationMs        int64
			startedAt         sql.NullTime
		)
		if err := rows.Scan(&s.ID, &status, &filename, &s.Size, &s.InputBytes, &durationMs, &s.Frames, &s.Chunks, &errText, &startedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		s.Status = domain.JobStatus(status)
		s.Filename = filename.String
		s.Error = errText.String
		s.Duration = time.Duration(durationMs) * time.Millisecond
		if startedAt.Valid {
			s.StartedAt = startedAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
