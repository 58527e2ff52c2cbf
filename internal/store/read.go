package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/casework/internal/task"
)

type scanner interface {
	Scan(dest ...any) error
}

// GetJob returns the job row, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (JobRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, params, status, version, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return JobRow{}, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return JobRow{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time, optionally filtered to the
// given statuses.
func (s *Store) ListJobs(ctx context.Context, statuses ...task.JobStatus) ([]JobRow, error) {
	query := `SELECT id, params, status, version, error, created_at, updated_at FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRow{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (JobRow, error) {
	var (
		job                  JobRow
		params, status       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &params, &status, &job.Version, &job.Error, &createdAt, &updatedAt); err != nil {
		return JobRow{}, err
	}
	p, err := unmarshalParams(params)
	if err != nil {
		return JobRow{}, err
	}
	job.Params = p
	job.Status = task.JobStatus(status)
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return JobRow{}, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return JobRow{}, err
	}
	return job, nil
}

// LoadRecord returns the job and every persisted section.
func (s *Store) LoadRecord(ctx context.Context, id string) (Record, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, data, version, writer, updated_at
		FROM sections WHERE job_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, id)
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: query sections: %w", id, err)
	}
	defer rows.Close()

	rec := Record{Job: job, Sections: make(map[string]SectionRow)}
	for rows.Next() {
		var (
			sec             SectionRow
			data, updatedAt string
		)
		if err := rows.Scan(&sec.Name, &data, &sec.Version, &sec.Writer, &updatedAt); err != nil {
			return Record{}, fmt.Errorf("load record %s: scan section: %w", id, err)
		}
		if sec.Data, err = unmarshalSection(data); err != nil {
			return Record{}, fmt.Errorf("load record %s: section %s: %w", id, sec.Name, err)
		}
		if sec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return Record{}, fmt.Errorf("load record %s: %w", id, err)
		}
		rec.Sections[sec.Name] = sec
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("iterate sections: %w", err)
	}
	return rec, nil
}

// Events returns the progress log of a job with seq > afterSeq, in seq
// order. Returns an empty slice (not nil) when there is nothing newer.
func (s *Store) Events(ctx context.Context, jobID string, afterSeq int64) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, seq, type, agent, status, attempt, message, details, error, created_at
		FROM progress_events
		WHERE job_id = ? AND seq > ?
		ORDER BY seq ASC
	`, jobID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var (
			ev                 EventRecord
			details, createdAt string
		)
		if err := rows.Scan(&ev.JobID, &ev.Seq, &ev.Type, &ev.Agent, &ev.Status, &ev.Attempt,
			&ev.Message, &details, &ev.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest seq recorded for a job, or 0.
func (s *Store) LastSeq(ctx context.Context, jobID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM progress_events WHERE job_id = ?
	`, jobID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq %s: %w", jobID, err)
	}
	return seq.Int64, nil
}
