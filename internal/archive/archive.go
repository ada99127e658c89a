// Package archive stores crops of faces that matched no enrolled student.
package archive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/embedding"
)

const filenameTimeLayout = "20060102_150405"

// UnknownCapture is a face crop to archive
type UnknownCapture struct {
	JobID       string
	DetectedAt  time.Time
	FrameOffset time.Duration
	Region      image.Rectangle
	Image       image.Image
}

// UnknownFace is an archived crop as listed to clients
type UnknownFace struct {
	Filename    string          `json:"filename"`
	ImageURL    string          `json:"image_url"`
	DetectedAt  time.Time       `json:"detected_at"`
	JobID       string          `json:"job_id,omitempty"`
	FrameOffset float64         `json:"frame_offset_seconds"`
	Region      image.Rectangle `json:"-"`
}

// Archive writes unknown face crops to a directory and records their metadata.
// Entries are never deleted by the archive.
type Archive struct {
	dir   string
	store database.UnknownFaceStore
	retry database.RetryPolicy
}

// New creates an archive rooted at dir.
func New(dir string, store database.UnknownFaceStore, retry database.RetryPolicy) (*Archive, error) {
	if store == nil {
		return nil, errors.New("unknown face store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create unknown faces directory: %w", err)
	}
	return &Archive{dir: dir, store: store, retry: retry}, nil
}

// Dir returns the directory holding the crops.
func (a *Archive) Dir() string {
	return a.dir
}

// Save encodes the crop as JPEG, writes it under a unique name and records it.
// A file whose metadata could not be recorded is removed again.
func (a *Archive) Save(ctx context.Context, capture UnknownCapture) (UnknownFace, error) {
	if capture.Image == nil || capture.Image.Bounds().Empty() {
		return UnknownFace{}, fmt.Errorf("%w: empty face crop", database.ErrInvalidInput)
	}
	if capture.DetectedAt.IsZero() {
		capture.DetectedAt = time.Now()
	}

	data, err := embedding.EncodeJPEG(capture.Image)
	if err != nil {
		return UnknownFace{}, err
	}

	filename := newFilename(capture.DetectedAt)
	path := filepath.Join(a.dir, filename)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return UnknownFace{}, fmt.Errorf("%w: %w", database.ErrPersistence, err)
	}

	rec := database.UnknownFaceRecord{
		Filename:    filename,
		DetectedAt:  capture.DetectedAt,
		JobID:       capture.JobID,
		FrameOffset: capture.FrameOffset,
		Region:      capture.Region,
	}
	err = database.WithRetry(ctx, a.retry, func(ctx context.Context) error {
		return a.store.SaveUnknownFace(ctx, rec)
	})
	if err != nil {
		os.Remove(path)
		return UnknownFace{}, err
	}
	return toUnknownFace(rec), nil
}

// List returns every archived face ordered by detection time, then filename.
func (a *Archive) List(ctx context.Context) ([]UnknownFace, error) {
	records, err := a.store.ListUnknownFaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unknown faces: %w", err)
	}
	faces := make([]UnknownFace, 0, len(records))
	for _, rec := range records {
		faces = append(faces, toUnknownFace(rec))
	}
	return faces, nil
}

func toUnknownFace(rec database.UnknownFaceRecord) UnknownFace {
	return UnknownFace{
		Filename:    rec.Filename,
		ImageURL:    constants.UnknownFacesURLPrefix + rec.Filename,
		DetectedAt:  rec.DetectedAt,
		JobID:       rec.JobID,
		FrameOffset: rec.FrameOffset.Seconds(),
		Region:      rec.Region,
	}
}

// newFilename returns unknown_<YYYYMMDD_HHMMSS>_<8 hex chars>.jpg.
func newFilename(detectedAt time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("unknown_%s_%s.jpg", detectedAt.UTC().Format(filenameTimeLayout), suffix)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".unknown-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
