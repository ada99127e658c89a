package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

// OverrideRequest sets a student's status for a day by hand.
type OverrideRequest struct {
	StudentID string
	Name      string  // defaults to the enrolled name
	Division  *string // nil keeps the stored division
	Date      string  // YYYY-MM-DD, defaults to today
	Status    database.AttendanceStatus
}

// Roster is the ledger of one day.
type Roster struct {
	Date    string                      `json:"date"`
	Total   int                         `json:"total_records"`
	Records []database.AttendanceRecord `json:"records"`
}

// Override writes the status for the student and date, stamping the current
// time. An existing record for that day is replaced.
func (s *Service) Override(ctx context.Context, req OverrideRequest) (database.AttendanceRecord, error) {
	id := strings.TrimSpace(req.StudentID)
	if id == "" || len(id) > constants.MaxStudentIDLength {
		return database.AttendanceRecord{}, fmt.Errorf("%w: student_id must be 1-%d characters", database.ErrInvalidInput, constants.MaxStudentIDLength)
	}
	if !req.Status.Valid() {
		return database.AttendanceRecord{}, fmt.Errorf("%w: status must be present or absent, got %q", database.ErrInvalidInput, req.Status)
	}

	now := s.now()
	date, err := s.resolveDate(req.Date)
	if err != nil {
		return database.AttendanceRecord{}, err
	}

	name := strings.TrimSpace(req.Name)
	if len(name) > constants.MaxNameLength {
		return database.AttendanceRecord{}, fmt.Errorf("%w: student_name must be at most %d characters", database.ErrInvalidInput, constants.MaxNameLength)
	}
	if name == "" {
		student, err := s.deps.Biometric.GetStudent(ctx, id)
		if err != nil {
			return database.AttendanceRecord{}, fmt.Errorf("%w: student_name is required for student %s: %w", database.ErrInvalidInput, id, err)
		}
		name = student.Name
	}
	division := normalizeDivision(req.Division)
	if division != nil && len(*division) > constants.MaxDivisionLength {
		return database.AttendanceRecord{}, fmt.Errorf("%w: division must be at most %d characters", database.ErrInvalidInput, constants.MaxDivisionLength)
	}

	rec := database.AttendanceRecord{
		StudentID:   id,
		StudentName: name,
		Division:    division,
		Date:        date,
		Time:        now.Format(constants.TimeLayout),
		Status:      req.Status,
	}
	var stored database.AttendanceRecord
	err = database.WithRetry(ctx, s.opts.Retry, func(ctx context.Context) error {
		var err error
		stored, err = s.deps.Ledger.SetStatus(ctx, rec)
		return err
	})
	if err != nil {
		return database.AttendanceRecord{}, fmt.Errorf("override attendance: %w", err)
	}

	s.log.Info("attendance overridden", "student_id", id, "date", date, "status", req.Status)
	return stored, nil
}

// Roster returns every ledger record of the date ordered by time. An empty
// date means today.
func (s *Service) Roster(ctx context.Context, date string) (Roster, error) {
	day, err := s.resolveDate(date)
	if err != nil {
		return Roster{}, err
	}
	records, err := s.deps.Ledger.Query(ctx, day)
	if err != nil {
		return Roster{}, fmt.Errorf("query attendance: %w", err)
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	return Roster{Date: day, Total: len(records), Records: records}, nil
}

func (s *Service) resolveDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return s.now().Format(constants.DateLayout), nil
	}
	parsed, err := time.Parse(constants.DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", database.ErrInvalidInput, date)
	}
	return parsed.Format(constants.DateLayout), nil
}
