package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

const jobColumns = `id, status, frames_processed, faces_detected, students_matched, match_detections,
	unknown_faces_saved, errors_json, source_video, recorded_at, created_at, started_at, completed_at`

func scanJob(row rowScanner) (database.JobRecord, error) {
	var (
		job                database.JobRecord
		errorsJSON         string
		recorded, created  string
		started, completed sql.NullString
	)
	err := row.Scan(&job.ID, &job.Status, &job.FramesProcessed, &job.FacesDetected, &job.StudentsMatched,
		&job.MatchDetections, &job.UnknownFacesSaved, &errorsJSON, &job.SourceVideo, &recorded, &created,
		&started, &completed)
	if err != nil {
		return job, err
	}
	if err := json.Unmarshal([]byte(errorsJSON), &job.Errors); err != nil {
		return job, fmt.Errorf("decode job errors: %w", err)
	}
	if job.RecordedAt, err = parseTimestamp(recorded); err != nil {
		return job, err
	}
	if job.CreatedAt, err = parseTimestamp(created); err != nil {
		return job, err
	}
	if job.StartedAt, err = parseOptionalTimestamp(started); err != nil {
		return job, err
	}
	if job.CompletedAt, err = parseOptionalTimestamp(completed); err != nil {
		return job, err
	}
	return job, nil
}

func parseOptionalTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveJob inserts or replaces the job snapshot.
func (s *Store) SaveJob(ctx context.Context, job database.JobRecord) error {
	errs := job.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode job errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			frames_processed = excluded.frames_processed,
			faces_detected = excluded.faces_detected,
			students_matched = excluded.students_matched,
			match_detections = excluded.match_detections,
			unknown_faces_saved = excluded.unknown_faces_saved,
			errors_json = excluded.errors_json,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, job.ID, job.Status, job.FramesProcessed, job.FacesDetected, job.StudentsMatched, job.MatchDetections,
		job.UnknownFacesSaved, string(errorsJSON), job.SourceVideo, timestamp(job.RecordedAt),
		timestamp(job.CreatedAt), nullableTime(job.StartedAt), nullableTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job snapshot.
func (s *Store) GetJob(ctx context.Context, id string) (*database.JobRecord, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]database.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]database.JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// MarkInterrupted fails every queued or processing job.
func (s *Store) MarkInterrupted(ctx context.Context, message string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin interrupt: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE status IN ('queued', 'processing')")
	if err != nil {
		return 0, fmt.Errorf("query unfinished jobs: %w", err)
	}
	var pending []database.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan job: %w", err)
		}
		pending = append(pending, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate jobs: %w", err)
	}

	now := timestamp(time.Now())
	for _, job := range pending {
		errs, err := json.Marshal(append(job.Errors, message))
		if err != nil {
			return 0, fmt.Errorf("encode job errors: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET status = 'failed', errors_json = ?, completed_at = ? WHERE id = ?",
			string(errs), now, job.ID,
		); err != nil {
			return 0, fmt.Errorf("mark job %s interrupted: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit interrupt: %w", err)
	}
	return len(pending), nil
}
