package jobs

import (
	"context"
	"fmt"
	"time"

	"glossa/internal/sqlite"
)

// TransitionStatus conditionally moves a job to a new status. The update
// only succeeds when the row still holds one of the expected statuses, which
// keeps the chunk executor and cancellation requests from losing updates to
// each other. Expected statuses that cannot legally move to the target are
// dropped, so a terminal job never comes back to life no matter what the
// caller passed. Returns false when the guard rejected the transition.
func (s *Store) TransitionStatus(ctx context.Context, id string, to Status, from ...Status) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s: no expected statuses", to)
	}
	sources := make([]Status, 0, len(from))
	for _, status := range from {
		if status.CanTransition(to) {
			sources = append(sources, status)
		}
	}
	if len(sources) == 0 {
		return false, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{to, now}
	if to == StatusRunning {
		query += `, started_at = COALESCE(started_at, ?), last_heartbeat = ?`
		args = append(args, now, now)
	}
	if to.IsTerminal() {
		query += `, finished_at = ?, last_heartbeat = NULL`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status IN (`
	args = append(args, id)
	for i, status := range sources {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, status)
	}
	query += `)`

	res, err := sqlite.ExecWithRetry(ctx, s.db, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job to %s: %w", to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected > 0, nil
}

// ChunkProgress carries the per-chunk counter deltas the executor persists.
type ChunkProgress struct {
	Processed int64
	Succeeded int64
	Failed    int64
	Improved  int64
	Unchanged int64
	Cursor    int64
}

// RecordChunk advances counters, cursor, and heartbeat in one update guarded
// by status = running, so a cancelled or paused job never advances. Returns
// false when the guard rejected the write.
func (s *Store) RecordChunk(ctx context.Context, id string, progress ChunkProgress) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE jobs SET
            processed = processed + ?,
            succeeded = succeeded + ?,
            failed = failed + ?,
            improved = improved + ?,
            unchanged = unchanged + ?,
            cursor = ?,
            last_heartbeat = ?,
            updated_at = ?
         WHERE id = ? AND status = ?`,
		progress.Processed, progress.Succeeded, progress.Failed,
		progress.Improved, progress.Unchanged, progress.Cursor,
		now, now, id, StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("record chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record chunk rows affected: %w", err)
	}
	return affected > 0, nil
}

// Heartbeat refreshes the liveness timestamp of an in-flight job.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		now, now, id, StatusRunning, StatusPaused,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// RequestCancel flags a job for cancellation. The flag is honored by the
// chunk executor before the next chunk; a pending job is cancelled outright.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCancelled, UserStopReason, now, now, id, StatusPending,
	); err != nil {
		return fmt.Errorf("cancel pending job: %w", err)
	}
	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`UPDATE jobs SET cancelling = 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		now, id, StatusRunning, StatusPaused,
	); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// FinalizeCancelled moves a job to its terminal cancelled state with a
// human-readable reason.
func (s *Store) FinalizeCancelled(ctx context.Context, id, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, cancelling = 0, last_heartbeat = NULL,
            finished_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		StatusCancelled, reason, now, now, id,
		StatusPending, StatusRunning, StatusPaused,
	); err != nil {
		return fmt.Errorf("finalize cancelled: %w", err)
	}
	return nil
}

// MarkErrored terminates a job with an operator-visible message.
func (s *Store) MarkErrored(ctx context.Context, id, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, last_heartbeat = NULL,
            finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusErrored, message, now, now, id, StatusRunning,
	); err != nil {
		return fmt.Errorf("mark errored: %w", err)
	}
	return nil
}

// ReclaimOrphans cancels running or paused jobs whose heartbeat is older
// than the cutoff. Jobs with a fresh heartbeat are untouched, so repeated
// calls are idempotent. Returns the number of jobs reclaimed.
func (s *Store) ReclaimOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, cancelling = 0, last_heartbeat = NULL,
            finished_at = ?, updated_at = ?
         WHERE status IN (?, ?)
           AND last_heartbeat IS NOT NULL
           AND last_heartbeat < ?`,
		StatusCancelled, OrphanStopReason, now, now,
		StatusRunning, StatusPaused,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim orphans: %w", err)
	}
	return res.RowsAffected()
}

// CancelActiveByType force-cancels every active job of one type, recording
// the reason. Used by the kill switch fan-out; one call per job table scope.
func (s *Store) CancelActiveByType(ctx context.Context, jobType Type, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE jobs SET status = ?, message = ?, cancelling = 0, last_heartbeat = NULL,
            finished_at = ?, updated_at = ?
         WHERE job_type = ? AND status IN (?, ?, ?)`,
		StatusCancelled, reason, now, now,
		jobType, StatusPending, StatusRunning, StatusPaused,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel active %s jobs: %w", jobType, err)
	}
	return res.RowsAffected()
}
