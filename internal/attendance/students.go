package attendance

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/rollcall/internal/facematch"
)

// StudentSummary describes an enrolled student without biometric data.
type StudentSummary struct {
	StudentID      string  `json:"student_id"`
	Name           string  `json:"student_name"`
	Division       *string `json:"division"`
	GraduationYear *int    `json:"graduation_year"`
	Encodings      int     `json:"encodings"`
}

// Students lists enrolled students ordered by ID, optionally filtered by a
// name query that ignores case and diacritics.
func (s *Service) Students(ctx context.Context, query string) ([]StudentSummary, error) {
	records, err := s.deps.Biometric.AllStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	query = strings.TrimSpace(query)

	result := make([]StudentSummary, 0, len(records))
	for _, rec := range records {
		if query != "" && !facematch.NameMatches(rec.Name, query) && !strings.EqualFold(rec.StudentID, query) {
			continue
		}
		result = append(result, StudentSummary{
			StudentID:      rec.StudentID,
			Name:           rec.Name,
			Division:       rec.Division,
			GraduationYear: rec.GraduationYear,
			Encodings:      len(rec.Embeddings),
		})
	}
	return result, nil
}
