package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// CreateJob inserts a new job row in PENDING status with version 0.
func (s *Store) CreateJob(ctx context.Context, id string, params task.Params, now time.Time) error {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	ts := formatTime(now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, params, status, version, error, created_at, updated_at)
		VALUES (?, ?, ?, 0, '', ?, ?)
	`, id, paramsJSON, string(task.JobPending), ts, ts)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJobStatus records a job status change. errMsg is kept for FAILED and
// PARTIAL jobs and cleared otherwise by passing "".
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status task.JobStatus, errMsg string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update job status %s: %w", id, ErrNotFound)
	}
	return nil
}

// CommitSection writes one section and bumps the record version in a single
// transaction. expectVersion is the version the caller last observed; if the
// stored version differs the write is rejected with ErrVersionConflict.
// Returns the new record version.
func (s *Store) CommitSection(ctx context.Context, jobID, name, writer string, data section.Data, expectVersion int64, now time.Time) (int64, error) {
	dataJSON, err := marshalSection(data)
	if err != nil {
		return 0, fmt.Errorf("commit section %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("commit section %s: begin: %w", name, err)
	}
	defer tx.Rollback()

	ts := formatTime(now)
	next := expectVersion + 1
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET version = ?, updated_at = ? WHERE id = ? AND version = ?
	`, next, ts, jobID, expectVersion)
	if err != nil {
		return 0, fmt.Errorf("commit section %s: bump version: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commit section %s: %w", name, err)
	}
	if n == 0 {
		if exists, err := jobExists(ctx, tx, jobID); err != nil {
			return 0, fmt.Errorf("commit section %s: %w", name, err)
		} else if !exists {
			return 0, fmt.Errorf("commit section %s: job %s: %w", name, jobID, ErrNotFound)
		}
		return 0, fmt.Errorf("commit section %s: expected version %d: %w", name, expectVersion, ErrVersionConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sections (job_id, name, data, version, writer, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, name) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			writer = excluded.writer,
			updated_at = excluded.updated_at
	`, jobID, name, dataJSON, next, writer, ts)
	if err != nil {
		return 0, fmt.Errorf("commit section %s: write: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit section %s: commit: %w", name, err)
	}
	return next, nil
}

func jobExists(ctx context.Context, tx *sql.Tx, jobID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return true, nil
}

// AppendEvent appends one progress event. The (job_id, seq) primary key
// rejects a duplicate seq, so a caller that reuses a seq gets an error
// instead of silently rewriting history.
func (s *Store) AppendEvent(ctx context.Context, ev EventRecord) error {
	details, err := marshalDetails(ev.Details)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO progress_events
		(job_id, seq, type, agent, status, attempt, message, details, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.JobID,
		ev.Seq,
		ev.Type,
		ev.Agent,
		ev.Status,
		ev.Attempt,
		ev.Message,
		details,
		ev.Error,
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", ev.JobID, ev.Seq, err)
	}
	return nil
}
