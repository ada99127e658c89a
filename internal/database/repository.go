package database

import (
	"context"
)

// BiometricReader provides read-only access to enrolled students and their embeddings
type BiometricReader interface {
	// AllStudents returns a consistent snapshot of every student with embeddings, ordered by student ID
	AllStudents(ctx context.Context) ([]StudentRecord, error)
	// GetStudent retrieves one student, returns ErrNotFound if missing
	GetStudent(ctx context.Context, studentID string) (*StudentRecord, error)
	// CountEmbeddings returns the total number of stored embeddings
	CountEmbeddings(ctx context.Context) (int, error)
}

// BiometricWriter provides write access to the biometric store
type BiometricWriter interface {
	BiometricReader

	// Enroll creates the student or appends embeddings to an existing one.
	// Name and division are always updated, graduation year only when provided.
	// Returns the total number of embeddings stored for the student.
	Enroll(ctx context.Context, profile StudentProfile, embeddings [][]float32) (int, error)

	// Remove deletes students and their embeddings, returns the number of students removed
	Remove(ctx context.Context, studentIDs []string) (int, error)
}

// StudentPurger removes every trace of a student in a single transaction
type StudentPurger interface {
	// PurgeStudent deletes the student's embeddings, profile and attendance rows.
	// Returns ErrNotFound when the student does not exist.
	PurgeStudent(ctx context.Context, studentID string) error
}

// AttendanceLedger records per-day attendance, unique per (student, date)
type AttendanceLedger interface {
	// UpsertPresent inserts a present record unless one exists for the same student and date.
	// Returns the stored record and whether it was created.
	UpsertPresent(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, bool, error)
	// SetStatus writes the record, overwriting status, time and name; division only when provided
	SetStatus(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)
	// Query returns all records for a date ordered by time, then student ID
	Query(ctx context.Context, date string) ([]AttendanceRecord, error)
	// DeleteForStudents removes every record of the given students
	DeleteForStudents(ctx context.Context, studentIDs []string) (int, error)
}

// UnknownFaceStore keeps metadata of archived unknown faces
type UnknownFaceStore interface {
	// SaveUnknownFace records a new archive entry
	SaveUnknownFace(ctx context.Context, rec UnknownFaceRecord) error
	// ListUnknownFaces returns entries ordered by detection time, then filename
	ListUnknownFaces(ctx context.Context) ([]UnknownFaceRecord, error)
}

// JobStore persists job snapshots so status survives restarts
type JobStore interface {
	// SaveJob inserts or replaces the job snapshot
	SaveJob(ctx context.Context, job JobRecord) error
	// GetJob retrieves a job, returns ErrNotFound if missing
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	// ListJobs returns the most recent jobs, newest first
	ListJobs(ctx context.Context, limit int) ([]JobRecord, error)
	// MarkInterrupted fails every queued or processing job with the given message
	MarkInterrupted(ctx context.Context, message string) (int, error)
}
