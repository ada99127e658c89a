package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// encodeVector packs a vector as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has invalid length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanProfiles(ctx context.Context, q querier, where string, args ...any) ([]database.StudentRecord, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT student_id, name, division, graduation_year FROM students "+where+" ORDER BY student_id", args...)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	students := make([]database.StudentRecord, 0)
	for rows.Next() {
		var (
			rec      database.StudentRecord
			division sql.NullString
			year     sql.NullInt64
		)
		if err := rows.Scan(&rec.StudentID, &rec.Name, &division, &year); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		rec.Division = stringPtr(division)
		if year.Valid {
			y := int(year.Int64)
			rec.GraduationYear = &y
		}
		students = append(students, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

func attachEmbeddings(ctx context.Context, q querier, students []database.StudentRecord, where string, args ...any) error {
	index := make(map[string]int, len(students))
	for i := range students {
		index[students[i].StudentID] = i
	}

	rows, err := q.QueryContext(ctx,
		"SELECT student_id, embedding, registered_at FROM student_embeddings "+where+" ORDER BY student_id, id", args...)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			studentID  string
			blob       []byte
			registered string
		)
		if err := rows.Scan(&studentID, &blob, &registered); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		i, ok := index[studentID]
		if !ok {
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return err
		}
		at, err := parseTimestamp(registered)
		if err != nil {
			return err
		}
		students[i].Embeddings = append(students[i].Embeddings, database.StoredEmbedding{Vector: vec, RegisteredAt: at})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	return nil
}

// AllStudents returns every student with embeddings from one read transaction.
func (s *Store) AllStudents(ctx context.Context) ([]database.StudentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	students, err := scanProfiles(ctx, tx, "")
	if err != nil {
		return nil, err
	}
	if err := attachEmbeddings(ctx, tx, students, ""); err != nil {
		return nil, err
	}
	return students, nil
}

// GetStudent retrieves one student with its embeddings.
func (s *Store) GetStudent(ctx context.Context, studentID string) (*database.StudentRecord, error) {
	students, err := scanProfiles(ctx, s.db, "WHERE student_id = ?", studentID)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if err := attachEmbeddings(ctx, s.db, students, "WHERE student_id = ?", studentID); err != nil {
		return nil, err
	}
	return &students[0], nil
}

// CountEmbeddings returns the total number of stored embeddings.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM student_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Enroll upserts the profile and appends embeddings in one transaction.
func (s *Store) Enroll(ctx context.Context, profile database.StudentProfile, embeddings [][]float32) (int, error) {
	if err := database.ValidateEmbeddings(embeddings); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enrollment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp(time.Now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO students (student_id, name, division, graduation_year, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			name = excluded.name,
			division = excluded.division,
			graduation_year = COALESCE(excluded.graduation_year, students.graduation_year),
			updated_at = excluded.updated_at
	`, profile.StudentID, profile.Name, nullableString(profile.Division), nullableInt(profile.GraduationYear), now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert student: %w", err)
	}

	for _, e := range embeddings {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO student_embeddings (student_id, embedding, dim, registered_at) VALUES (?, ?, ?, ?)",
			profile.StudentID, encodeVector(e), len(e), now,
		); err != nil {
			return 0, fmt.Errorf("insert embedding: %w", err)
		}
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM student_embeddings WHERE student_id = ?", profile.StudentID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("count student embeddings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enrollment: %w", err)
	}
	return total, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Remove deletes students; embeddings cascade.
func (s *Store) Remove(ctx context.Context, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM students WHERE student_id IN ("+placeholders(len(studentIDs))+")", toArgs(studentIDs)...)
	if err != nil {
		return 0, fmt.Errorf("remove students: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeStudent deletes attendance rows, embeddings and profile in one transaction.
func (s *Store) PurgeStudent(ctx context.Context, studentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE student_id = ?", studentID); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM student_embeddings WHERE student_id = ?", studentID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM students WHERE student_id = ?", studentID)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}
