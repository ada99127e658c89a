package database

import (
	"image"
	"time"
)

// StoredEmbedding is one face encoding registered for a student
type StoredEmbedding struct {
	Vector       []float32
	RegisteredAt time.Time
}

// StudentProfile holds the descriptive fields of an enrolled student
type StudentProfile struct {
	StudentID      string
	Name           string
	Division       *string
	GraduationYear *int
}

// StudentRecord is a student profile together with all of its embeddings
type StudentRecord struct {
	StudentProfile
	Embeddings []StoredEmbedding
}

// AttendanceStatus is the ledger state of a student on a date
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether the status is one the ledger accepts.
func (s AttendanceStatus) Valid() bool {
	return s == StatusPresent || s == StatusAbsent
}

// AttendanceRecord is one ledger row, unique per (StudentID, Date)
type AttendanceRecord struct {
	StudentID   string           `json:"student_id"`
	StudentName string           `json:"student_name"`
	Division    *string          `json:"division"`
	Date        string           `json:"date"` // YYYY-MM-DD
	Time        string           `json:"time"` // HH:MM:SS
	Status      AttendanceStatus `json:"status"`
}

// UnknownFaceRecord is the metadata row of an archived unknown face crop
type UnknownFaceRecord struct {
	Filename    string
	DetectedAt  time.Time
	JobID       string
	FrameOffset time.Duration
	Region      image.Rectangle // in source frame pixel coordinates
}

// JobRecord is the persisted snapshot of a video processing job
type JobRecord struct {
	ID                string
	Status            string
	FramesProcessed   int
	FacesDetected     int
	StudentsMatched   int
	MatchDetections   int
	UnknownFacesSaved int
	Errors            []string
	SourceVideo       string
	RecordedAt        time.Time
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}
