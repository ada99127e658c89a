package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/lib/pq"
)

// AttendanceRepository provides the PostgreSQL-backed attendance ledger.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `student_id, student_name, division,
	to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI:SS'), status`

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
func (r *AttendanceRepository) UpsertPresent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.AttendanceRecord{}, false, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (student_id, student_name, division, date, time, status)
		VALUES ($1, $2, $3, $4, $5, 'present')
		ON CONFLICT (student_id, date) DO NOTHING
	`, rec.StudentID, rec.StudentName, nullString(rec.Division), rec.Date, rec.Time)
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("rows affected: %w", err)
	}

	stored, err := scanAttendance(tx.QueryRowContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE student_id = $1 AND date = $2",
		rec.StudentID, rec.Date))
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
func (r *AttendanceRepository) SetStatus(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, error) {
	stored, err := scanAttendance(r.pool.QueryRow(ctx, `
		INSERT INTO attendance (student_id, student_name, division, date, time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, date) DO UPDATE SET
			student_name = EXCLUDED.student_name,
			division = COALESCE(EXCLUDED.division, attendance.division),
			time = EXCLUDED.time,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING `+attendanceColumns,
		rec.StudentID, rec.StudentName, nullString(rec.Division), rec.Date, rec.Time, string(rec.Status)))
	if err != nil {
		return database.AttendanceRecord{}, fmt.Errorf("set attendance status: %w", err)
	}
	return stored, nil
}

// Query returns the rows of one date ordered by time, then student ID.
func (r *AttendanceRepository) Query(ctx context.Context, date string) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE date = $1 ORDER BY time, student_id", date)
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
func (r *AttendanceRepository) DeleteForStudents(ctx context.Context, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM attendance WHERE student_id = ANY($1)", pq.Array(studentIDs))
	if err != nil {
		return 0, fmt.Errorf("delete attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
