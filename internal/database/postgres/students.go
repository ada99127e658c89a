package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// StudentRepository provides PostgreSQL-backed biometric storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// AllStudents returns every student with embeddings from one repeatable-read snapshot.
func (r *StudentRepository) AllStudents(ctx context.Context) ([]database.StudentRecord, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	rows, err := tx.QueryContext(ctx, `
		SELECT student_id, name, division, graduation_year
		FROM students
		ORDER BY student_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}

	var students []database.StudentRecord
	index := make(map[string]int)
	for rows.Next() {
		var (
			rec      database.StudentRecord
			division sql.NullString
			year     sql.NullInt64
		)
		if err := rows.Scan(&rec.StudentID, &rec.Name, &division, &year); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan student: %w", err)
		}
		rec.Division = stringPtr(division)
		rec.GraduationYear = intPtr(year)
		index[rec.StudentID] = len(students)
		students = append(students, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}

	embRows, err := tx.QueryContext(ctx, `
		SELECT student_id, embedding, registered_at
		FROM student_embeddings
		ORDER BY student_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer embRows.Close()

	for embRows.Next() {
		var (
			studentID string
			vec       pgvector.Vector
			emb       database.StoredEmbedding
		)
		if err := embRows.Scan(&studentID, &vec, &emb.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		i, ok := index[studentID]
		if !ok {
			continue
		}
		emb.Vector = vec.Slice()
		students[i].Embeddings = append(students[i].Embeddings, emb)
	}
	if err := embRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return students, nil
}

// GetStudent retrieves one student with its embeddings.
func (r *StudentRepository) GetStudent(ctx context.Context, studentID string) (*database.StudentRecord, error) {
	var (
		rec      database.StudentRecord
		division sql.NullString
		year     sql.NullInt64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT student_id, name, division, graduation_year FROM students WHERE student_id = $1
	`, studentID).Scan(&rec.StudentID, &rec.Name, &division, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	rec.Division = stringPtr(division)
	rec.GraduationYear = intPtr(year)

	rows, err := r.pool.Query(ctx, `
		SELECT embedding, registered_at FROM student_embeddings WHERE student_id = $1 ORDER BY id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query student embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			vec pgvector.Vector
			emb database.StoredEmbedding
		)
		if err := rows.Scan(&vec, &emb.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb.Vector = vec.Slice()
		rec.Embeddings = append(rec.Embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return &rec, nil
}

// CountEmbeddings returns the total number of stored embeddings.
func (r *StudentRepository) CountEmbeddings(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM student_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Enroll upserts the profile and appends embeddings in one transaction.
func (r *StudentRepository) Enroll(ctx context.Context, profile database.StudentProfile, embeddings [][]float32) (int, error) {
	if err := database.ValidateEmbeddings(embeddings); err != nil {
		return 0, err
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO students (student_id, name, division, graduation_year)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			name = EXCLUDED.name,
			division = EXCLUDED.division,
			graduation_year = COALESCE(EXCLUDED.graduation_year, students.graduation_year),
			updated_at = NOW()
	`, profile.StudentID, profile.Name, nullString(profile.Division), nullInt(profile.GraduationYear))
	if err != nil {
		return 0, fmt.Errorf("upsert student: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO student_embeddings (student_id, embedding, dim) VALUES ($1, $2, $3)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		if _, err := stmt.ExecContext(ctx, profile.StudentID, pgvector.NewVector(e), len(e)); err != nil {
			return 0, fmt.Errorf("insert embedding: %w", err)
		}
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM student_embeddings WHERE student_id = $1", profile.StudentID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("count student embeddings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enrollment: %w", err)
	}
	return total, nil
}

// Remove deletes students; embeddings cascade.
func (r *StudentRepository) Remove(ctx context.Context, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM students WHERE student_id = ANY($1)", pq.Array(studentIDs))
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
func (r *StudentRepository) PurgeStudent(ctx context.Context, studentID string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM students WHERE student_id = $1", studentID)
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
