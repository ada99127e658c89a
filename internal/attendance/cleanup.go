package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

// CleanupFailure is a student that could not be removed.
type CleanupFailure struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

// CleanupResult reports an alumni cleanup run.
type CleanupResult struct {
	Cutoff            int              `json:"graduation_year_cutoff"`
	RemovedCount      int              `json:"removed_count"`
	RemovedStudentIDs []string         `json:"removed_student_ids"`
	Failures          []CleanupFailure `json:"failures"`
}

// Cleanup removes every student whose graduation year is at or before the
// cutoff, together with their embeddings and attendance. Each student is
// removed on its own; a failure is reported and the rest continue. The
// cutoff defaults to the year before the current academic year and may not
// reach the current cohort.
func (s *Service) Cleanup(ctx context.Context, cutoff *int) (CleanupResult, error) {
	year := s.opts.CurrentAcademicYear - 1
	if cutoff != nil {
		year = *cutoff
	}
	if err := s.validateCutoff(year); err != nil {
		return CleanupResult{}, err
	}

	students, err := s.deps.Biometric.AllStudents(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list students: %w", err)
	}

	result := CleanupResult{
		Cutoff:            year,
		RemovedStudentIDs: []string{},
		Failures:          []CleanupFailure{},
	}
	for _, st := range students {
		if st.GraduationYear == nil || *st.GraduationYear > year {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := database.WithRetry(ctx, s.opts.Retry, func(ctx context.Context) error {
			return s.purge(ctx, st.StudentID)
		})
		switch {
		case err == nil:
			result.RemovedStudentIDs = append(result.RemovedStudentIDs, st.StudentID)
		case errors.Is(err, database.ErrNotFound):
			// removed concurrently
		default:
			s.log.Warn("alumni cleanup failed for student", "student_id", st.StudentID, "error", err)
			result.Failures = append(result.Failures, CleanupFailure{StudentID: st.StudentID, Error: err.Error()})
		}
	}
	result.RemovedCount = len(result.RemovedStudentIDs)

	s.log.Info("alumni cleanup finished", "cutoff", year, "removed", result.RemovedCount, "failures", len(result.Failures))
	return result, nil
}

func (s *Service) validateCutoff(year int) error {
	if year < constants.MinGraduationYear || year > constants.MaxGraduationYear {
		return fmt.Errorf("%w: graduation_year_cutoff must be between %d and %d",
			database.ErrInvalidInput, constants.MinGraduationYear, constants.MaxGraduationYear)
	}
	if year >= s.opts.CurrentAcademicYear {
		return fmt.Errorf("%w: graduation_year_cutoff must be before the current academic year %d",
			database.ErrInvalidInput, s.opts.CurrentAcademicYear)
	}
	return nil
}

// purge removes one student atomically when the store supports it.
func (s *Service) purge(ctx context.Context, studentID string) error {
	if p, ok := s.deps.Biometric.(database.StudentPurger); ok {
		return p.PurgeStudent(ctx, studentID)
	}
	if _, err := s.deps.Ledger.DeleteForStudents(ctx, []string{studentID}); err != nil {
		return err
	}
	n, err := s.deps.Biometric.Remove(ctx, []string{studentID})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	return nil
}
