package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"glossa/internal/config"
	"glossa/internal/sqlite"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenAt connects to the job database at an explicit path.
func OpenAt(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `id, job_type, corpus_id, status, total, processed, succeeded, failed,
    improved, unchanged, cursor, message, cancelling, last_heartbeat,
    started_at, finished_at, created_at, updated_at`

// Create inserts a new pending job after cancelling any active job in the
// same scope. Only one job may be running or paused per (type, corpus).
func (s *Store) Create(ctx context.Context, jobType Type, corpusID string, total int64) (*Job, error) {
	if corpusID = strings.TrimSpace(corpusID); corpusID == "" {
		return nil, errors.New("create job: corpus id required")
	}
	if total < 0 {
		return nil, errors.New("create job: negative total")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	if _, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, finished_at = ?, updated_at = ?
         WHERE job_type = ? AND corpus_id = ? AND status IN (?, ?, ?)`,
		StatusCancelled, "Superseded by a newer job", timestamp, timestamp,
		jobType, corpusID,
		StatusPending, StatusRunning, StatusPaused,
	); err != nil {
		return nil, fmt.Errorf("cancel sibling jobs: %w", err)
	}

	id := uuid.NewString()
	if _, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`INSERT INTO jobs (id, job_type, corpus_id, status, total, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, jobType, corpusID, StatusPending, total, timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveForScope returns the pending/running/paused job for a scope, if any.
func (s *Store) ActiveForScope(ctx context.Context, jobType Type, corpusID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE job_type = ? AND corpus_id = ? AND status IN (?, ?, ?)
         ORDER BY created_at DESC LIMIT 1`,
		jobType, corpusID, StatusPending, StatusRunning, StatusPaused,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for scope: %w", err)
	}
	return job, nil
}

// ActiveForType returns the most recent active job of a type across corpora.
func (s *Store) ActiveForType(ctx context.Context, jobType Type) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE job_type = ? AND status IN (?, ?, ?)
         ORDER BY created_at DESC LIMIT 1`,
		jobType, StatusPending, StatusRunning, StatusPaused,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for type: %w", err)
	}
	return job, nil
}

// List returns jobs ordered newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                                 Job
		cancelling                          int
		lastHeartbeat, startedAt, finishedAt sql.NullString
		createdAt, updatedAt                string
	)
	if err := row.Scan(
		&job.ID, &job.Type, &job.CorpusID, &job.Status,
		&job.Total, &job.Processed, &job.Succeeded, &job.Failed,
		&job.Improved, &job.Unchanged, &job.Cursor, &job.Message,
		&cancelling, &lastHeartbeat, &startedAt, &finishedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	job.Cancelling = cancelling != 0
	job.LastHeartbeat = parseNullableTime(lastHeartbeat)
	job.StartedAt = parseNullableTime(startedAt)
	job.FinishedAt = parseNullableTime(finishedAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &parsed
}
