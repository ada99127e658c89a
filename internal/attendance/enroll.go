package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// EnrollRequest registers face images for a student.
type EnrollRequest struct {
	StudentID      string
	Name           string
	Division       *string
	GraduationYear *int
	Images         [][]byte
}

// EnrollResult reports the outcome of an enrollment.
type EnrollResult struct {
	StudentID       string `json:"student_id"`
	EncodingsStored int    `json:"encodings_stored"` // total for the student
	Added           int    `json:"added"`
	Created         bool   `json:"created"`
}

// Enroll extracts one embedding per image, using the largest face, and adds
// them to the student's gallery entry. Name and division are replaced on
// re-enrollment; the graduation year only when provided.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	profile, err := validateProfile(req)
	if err != nil {
		return EnrollResult{}, err
	}
	if s.deps.Detector == nil {
		return EnrollResult{}, fmt.Errorf("%w: no face detector configured", database.ErrDetectionFailure)
	}

	embeddings := make([][]float32, 0, len(req.Images))
	for i, data := range req.Images {
		if s.opts.MaxImageBytes > 0 && int64(len(data)) > s.opts.MaxImageBytes {
			return EnrollResult{}, fmt.Errorf("%w: image %d exceeds %d bytes", database.ErrInvalidInput, i+1, s.opts.MaxImageBytes)
		}
		img, err := embedding.DecodeImage(data)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("%w: image %d: %w", database.ErrValidation, i+1, err)
		}
		faces, err := s.deps.Detector.Detect(ctx, img)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("image %d: %w", i+1, err)
		}
		face, ok := facematch.LargestFace(faces)
		if !ok || len(face.Embedding) == 0 {
			return EnrollResult{}, fmt.Errorf("%w: image %d: no face detected", database.ErrValidation, i+1)
		}
		if len(faces) > 1 {
			s.log.Info("multiple faces in enrollment image, using the largest", "student_id", profile.StudentID, "image", i+1, "faces", len(faces))
		}
		embeddings = append(embeddings, face.Embedding)
	}

	created := false
	if _, err := s.deps.Biometric.GetStudent(ctx, profile.StudentID); errors.Is(err, database.ErrNotFound) {
		created = true
	}

	var total int
	err = database.WithRetry(ctx, s.opts.Retry, func(ctx context.Context) error {
		var err error
		total, err = s.deps.Biometric.Enroll(ctx, profile, embeddings)
		return err
	})
	if err != nil {
		return EnrollResult{}, fmt.Errorf("enroll %s: %w", profile.StudentID, err)
	}

	s.log.Info("student enrolled", "student_id", profile.StudentID, "added", len(embeddings), "total", total, "created", created)
	return EnrollResult{
		StudentID:       profile.StudentID,
		EncodingsStored: total,
		Added:           len(embeddings),
		Created:         created,
	}, nil
}

func validateProfile(req EnrollRequest) (database.StudentProfile, error) {
	id := strings.TrimSpace(req.StudentID)
	name := strings.TrimSpace(req.Name)

	var problems []string
	if id == "" || len(id) > constants.MaxStudentIDLength {
		problems = append(problems, fmt.Sprintf("student_id must be 1-%d characters", constants.MaxStudentIDLength))
	}
	if name == "" || len(name) > constants.MaxNameLength {
		problems = append(problems, fmt.Sprintf("student_name must be 1-%d characters", constants.MaxNameLength))
	}
	division := normalizeDivision(req.Division)
	if division != nil && len(*division) > constants.MaxDivisionLength {
		problems = append(problems, fmt.Sprintf("division must be at most %d characters", constants.MaxDivisionLength))
	}
	if y := req.GraduationYear; y != nil && (*y < constants.MinGraduationYear || *y > constants.MaxGraduationYear) {
		problems = append(problems, fmt.Sprintf("graduation_year must be between %d and %d", constants.MinGraduationYear, constants.MaxGraduationYear))
	}
	if len(req.Images) == 0 {
		problems = append(problems, "at least one image is required")
	}
	if len(problems) > 0 {
		return database.StudentProfile{}, fmt.Errorf("%w: %s", database.ErrInvalidInput, strings.Join(problems, "; "))
	}

	return database.StudentProfile{
		StudentID:      id,
		Name:           name,
		Division:       division,
		GraduationYear: req.GraduationYear,
	}, nil
}

// normalizeDivision trims the division and maps blank to nil.
func normalizeDivision(division *string) *string {
	if division == nil {
		return nil
	}
	d := strings.TrimSpace(*division)
	if d == "" {
		return nil
	}
	return &d
}
