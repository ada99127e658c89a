package postgres

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// UnknownFaceRepository stores unknown face archive metadata in PostgreSQL.
type UnknownFaceRepository struct {
	pool *Pool
}

// NewUnknownFaceRepository creates a new PostgreSQL unknown face repository.
func NewUnknownFaceRepository(pool *Pool) *UnknownFaceRepository {
	return &UnknownFaceRepository{pool: pool}
}

// SaveUnknownFace records a new archive entry.
func (r *UnknownFaceRepository) SaveUnknownFace(ctx context.Context, rec database.UnknownFaceRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO unknown_faces (filename, detected_at, job_id, frame_offset_ms, x1, y1, x2, y2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.Filename, rec.DetectedAt, rec.JobID, rec.FrameOffset.Milliseconds(),
		rec.Region.Min.X, rec.Region.Min.Y, rec.Region.Max.X, rec.Region.Max.Y)
	if err != nil {
		return fmt.Errorf("insert unknown face: %w", err)
	}
	return nil
}

// ListUnknownFaces returns entries ordered by detection time, then filename.
func (r *UnknownFaceRepository) ListUnknownFaces(ctx context.Context) ([]database.UnknownFaceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT filename, detected_at, job_id, frame_offset_ms, x1, y1, x2, y2
		FROM unknown_faces
		ORDER BY detected_at, filename
	`)
	if err != nil {
		return nil, fmt.Errorf("query unknown faces: %w", err)
	}
	defer rows.Close()

	faces := make([]database.UnknownFaceRecord, 0)
	for rows.Next() {
		var (
			rec            database.UnknownFaceRecord
			offsetMs       int64
			x1, y1, x2, y2 int
		)
		if err := rows.Scan(&rec.Filename, &rec.DetectedAt, &rec.JobID, &offsetMs, &x1, &y1, &x2, &y2); err != nil {
			return nil, fmt.Errorf("scan unknown face: %w", err)
		}
		rec.FrameOffset = time.Duration(offsetMs) * time.Millisecond
		rec.Region = image.Rect(x1, y1, x2, y2)
		faces = append(faces, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unknown faces: %w", err)
	}
	return faces, nil
}
