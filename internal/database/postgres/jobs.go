package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/lib/pq"
)

// JobRepository persists job snapshots in PostgreSQL.
type JobRepository struct {
	pool *Pool
}

// NewJobRepository creates a new PostgreSQL job repository.
func NewJobRepository(pool *Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, status, frames_processed, faces_detected, students_matched, match_detections,
	unknown_faces_saved, errors, source_video, recorded_at, created_at, started_at, completed_at`

func scanJob(row rowScanner) (database.JobRecord, error) {
	var (
		job       database.JobRecord
		errs      pq.StringArray
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Status, &job.FramesProcessed, &job.FacesDetected, &job.StudentsMatched,
		&job.MatchDetections, &job.UnknownFacesSaved, &errs, &job.SourceVideo, &job.RecordedAt,
		&job.CreatedAt, &started, &completed)
	if err != nil {
		return job, err
	}
	job.Errors = []string(errs)
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	return job, nil
}

// SaveJob inserts or replaces the job snapshot.
func (r *JobRepository) SaveJob(ctx context.Context, job database.JobRecord) error {
	errs := job.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			frames_processed = EXCLUDED.frames_processed,
			faces_detected = EXCLUDED.faces_detected,
			students_matched = EXCLUDED.students_matched,
			match_detections = EXCLUDED.match_detections,
			unknown_faces_saved = EXCLUDED.unknown_faces_saved,
			errors = EXCLUDED.errors,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`, job.ID, job.Status, job.FramesProcessed, job.FacesDetected, job.StudentsMatched, job.MatchDetections,
		job.UnknownFacesSaved, pq.Array(errs), job.SourceVideo, job.RecordedAt, job.CreatedAt,
		job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job snapshot.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*database.JobRecord, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]database.JobRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT $1", limit)
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
func (r *JobRepository) MarkInterrupted(ctx context.Context, message string) (int, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', errors = array_append(errors, $1), completed_at = NOW()
		WHERE status IN ('queued', 'processing')
	`, message)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
