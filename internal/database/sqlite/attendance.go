package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

const attendanceColumns = "student_id, student_name, division, date, time, status"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (database.AttendanceRecord, error) {
	var (
		rec      database.AttendanceRecord
		division sql.NullString
		status   string
	)
	if err := row.Scan(&rec.StudentID, &rec.StudentName, &division, &rec.Date, &rec.Time, &status); err != nil {
		return rec, err
	}
	rec.Division = stringPtr(division)
	rec.Status = database.AttendanceStatus(status)
	return rec, nil
}

// UpsertPresent inserts a present row unless the student already has one for the date.
func (s *Store) UpsertPresent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("begin attendance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (student_id, student_name, division, date, time, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 'present', ?)
		ON CONFLICT (student_id, date) DO NOTHING
	`, rec.StudentID, rec.StudentName, nullableString(rec.Division), rec.Date, rec.Time, timestamp(time.Now()))
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("rows affected: %w", err)
	}

	stored, err := scanAttendance(tx.QueryRowContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE student_id = ? AND date = ?", rec.StudentID, rec.Date))
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("read attendance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("commit attendance: %w", err)
	}
	return stored, n > 0, nil
}

// SetStatus writes the row, overwriting status, time and name.
// Division is only replaced when provided.
func (s *Store) SetStatus(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, error) {
	stored, err := scanAttendance(s.db.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, student_name, division, date, time, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, date) DO UPDATE SET
			student_name = excluded.student_name,
			division = COALESCE(excluded.division, attendance.division),
			time = excluded.time,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING `+attendanceColumns,
		rec.StudentID, rec.StudentName, nullableString(rec.Division), rec.Date, rec.Time, string(rec.Status),
		timestamp(time.Now())))
	if err != nil {
		return database.AttendanceRecord{}, fmt.Errorf("set attendance status: %w", err)
	}
	return stored, nil
}

// Query returns the rows of one date ordered by time, then student ID.
func (s *Store) Query(ctx context.Context, date string) ([]database.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE date = ? ORDER BY time, student_id", date)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	records := make([]database.AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// DeleteForStudents removes every row of the given students.
func (s *Store) DeleteForStudents(ctx context.Context, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM attendance WHERE student_id IN ("+placeholders(len(studentIDs))+")", toArgs(studentIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
