// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// MockBiometricStore is a mock implementation of database.BiometricWriter and database.StudentPurger
type MockBiometricStore struct {
	mu       sync.RWMutex
	students map[string]*database.StudentRecord

	// Ledger receives the attendance deletes of PurgeStudent, may be nil
	Ledger *MockAttendanceLedger

	// Error injection
	AllStudentsError error
	GetStudentError  error
	CountError       error
	EnrollError      error
	RemoveError      error
	PurgeError       error
	// PurgeErrorFor fails PurgeStudent for specific student IDs
	PurgeErrorFor map[string]error

	AllStudentsCalls int
}

// NewMockBiometricStore creates a new mock biometric store
func NewMockBiometricStore() *MockBiometricStore {
	return &MockBiometricStore{
		students: make(map[string]*database.StudentRecord),
	}
}

// AddStudent adds a student to the mock store
func (m *MockBiometricStore) AddStudent(rec database.StudentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyStudent(rec)
	m.students[rec.StudentID] = &cp
}

func copyStudent(rec database.StudentRecord) database.StudentRecord {
	cp := rec
	cp.Embeddings = make([]database.StoredEmbedding, len(rec.Embeddings))
	for i, e := range rec.Embeddings {
		cp.Embeddings[i] = database.StoredEmbedding{Vector: slices.Clone(e.Vector), RegisteredAt: e.RegisteredAt}
	}
	return cp
}

// AllStudents returns every student ordered by ID
func (m *MockBiometricStore) AllStudents(ctx context.Context) ([]database.StudentRecord, error) {
	m.mu.Lock()
	m.AllStudentsCalls++
	m.mu.Unlock()
	if m.AllStudentsError != nil {
		return nil, m.AllStudentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]database.StudentRecord, 0, len(m.students))
	for _, s := range m.students {
		result = append(result, copyStudent(*s))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StudentID < result[j].StudentID })
	return result, nil
}

// GetStudent retrieves one student
func (m *MockBiometricStore) GetStudent(ctx context.Context, studentID string) (*database.StudentRecord, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	cp := copyStudent(*s)
	return &cp, nil
}

// CountEmbeddings returns the total number of embeddings
func (m *MockBiometricStore) CountEmbeddings(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, s := range m.students {
		total += len(s.Embeddings)
	}
	return total, nil
}

// Enroll creates or appends to a student
func (m *MockBiometricStore) Enroll(ctx context.Context, profile database.StudentProfile, embeddings [][]float32) (int, error) {
	if m.EnrollError != nil {
		return 0, m.EnrollError
	}
	if err := database.ValidateEmbeddings(embeddings); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[profile.StudentID]
	if !ok {
		s = &database.StudentRecord{StudentProfile: profile}
		m.students[profile.StudentID] = s
	}
	s.Name = profile.Name
	s.Division = profile.Division
	if profile.GraduationYear != nil {
		s.GraduationYear = profile.GraduationYear
	}
	now := time.Now()
	for _, e := range embeddings {
		s.Embeddings = append(s.Embeddings, database.StoredEmbedding{Vector: slices.Clone(e), RegisteredAt: now})
	}
	return len(s.Embeddings), nil
}

// Remove deletes students
func (m *MockBiometricStore) Remove(ctx context.Context, studentIDs []string) (int, error) {
	if m.RemoveError != nil {
		return 0, m.RemoveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range studentIDs {
		if _, ok := m.students[id]; ok {
			delete(m.students, id)
			removed++
		}
	}
	return removed, nil
}

// PurgeStudent removes the student and, when a ledger is attached, its attendance rows
func (m *MockBiometricStore) PurgeStudent(ctx context.Context, studentID string) error {
	if m.PurgeError != nil {
		return m.PurgeError
	}
	if err, ok := m.PurgeErrorFor[studentID]; ok {
		return err
	}
	m.mu.Lock()
	if _, ok := m.students[studentID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	delete(m.students, studentID)
	m.mu.Unlock()

	if m.Ledger != nil {
		_, _ = m.Ledger.DeleteForStudents(ctx, []string{studentID})
	}
	return nil
}

// MockAttendanceLedger is a mock implementation of database.AttendanceLedger
type MockAttendanceLedger struct {
	mu      sync.RWMutex
	records map[string]database.AttendanceRecord // key: student_id|date

	// Error injection
	UpsertError error
	// UpsertFailures makes the first N UpsertPresent calls fail with UpsertError or a generic error
	UpsertFailures int
	SetStatusError error
	QueryError     error
	DeleteError    error

	UpsertCalls int
}

// NewMockAttendanceLedger creates a new mock ledger
func NewMockAttendanceLedger() *MockAttendanceLedger {
	return &MockAttendanceLedger{
		records: make(map[string]database.AttendanceRecord),
	}
}

func ledgerKey(studentID, date string) string {
	return studentID + "|" + date
}

// UpsertPresent inserts a record unless one exists
func (m *MockAttendanceLedger) UpsertPresent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertFailures > 0 {
		m.UpsertFailures--
		if m.UpsertError != nil {
			return database.AttendanceRecord{}, false, m.UpsertError
		}
		return database.AttendanceRecord{}, false, fmt.Errorf("database is locked")
	}
	if m.UpsertError != nil {
		return database.AttendanceRecord{}, false, m.UpsertError
	}

	key := ledgerKey(rec.StudentID, rec.Date)
	if existing, ok := m.records[key]; ok {
		return existing, false, nil
	}
	rec.Status = database.StatusPresent
	m.records[key] = rec
	return rec, true, nil
}

// SetStatus overwrites a record
func (m *MockAttendanceLedger) SetStatus(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, error) {
	if m.SetStatusError != nil {
		return database.AttendanceRecord{}, m.SetStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(rec.StudentID, rec.Date)
	if existing, ok := m.records[key]; ok && rec.Division == nil {
		rec.Division = existing.Division
	}
	m.records[key] = rec
	return rec, nil
}

// Query returns the records of a date ordered by time, then student ID
func (m *MockAttendanceLedger) Query(ctx context.Context, date string) ([]database.AttendanceRecord, error) {
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]database.AttendanceRecord, 0)
	for _, r := range m.records {
		if r.Date == date {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Time != result[j].Time {
			return result[i].Time < result[j].Time
		}
		return result[i].StudentID < result[j].StudentID
	})
	return result, nil
}

// DeleteForStudents removes every record of the given students
func (m *MockAttendanceLedger) DeleteForStudents(ctx context.Context, studentIDs []string) (int, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key, r := range m.records {
		if slices.Contains(studentIDs, r.StudentID) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// All returns every record, for assertions
func (m *MockAttendanceLedger) All() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.AttendanceRecord, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return ledgerKey(result[i].StudentID, result[i].Date) < ledgerKey(result[j].StudentID, result[j].Date)
	})
	return result
}

// MockUnknownFaceStore is a mock implementation of database.UnknownFaceStore
type MockUnknownFaceStore struct {
	mu    sync.RWMutex
	faces []database.UnknownFaceRecord

	// Error injection
	SaveError error
	ListError error
}

// NewMockUnknownFaceStore creates a new mock unknown face store
func NewMockUnknownFaceStore() *MockUnknownFaceStore {
	return &MockUnknownFaceStore{}
}

// SaveUnknownFace records an entry
func (m *MockUnknownFaceStore) SaveUnknownFace(ctx context.Context, rec database.UnknownFaceRecord) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = append(m.faces, rec)
	return nil
}

// ListUnknownFaces returns entries ordered by detection time, then filename
func (m *MockUnknownFaceStore) ListUnknownFaces(ctx context.Context) ([]database.UnknownFaceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := slices.Clone(m.faces)
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].DetectedAt.Equal(result[j].DetectedAt) {
			return result[i].DetectedAt.Before(result[j].DetectedAt)
		}
		return strings.Compare(result[i].Filename, result[j].Filename) < 0
	})
	return result, nil
}

// MockJobStore is a mock implementation of database.JobStore
type MockJobStore struct {
	mu   sync.RWMutex
	jobs map[string]database.JobRecord

	// Error injection
	SaveError error
	GetError  error
	ListError error
	MarkError error
}

// NewMockJobStore creates a new mock job store
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs: make(map[string]database.JobRecord),
	}
}

// SaveJob stores a job snapshot
func (m *MockJobStore) SaveJob(ctx context.Context, job database.JobRecord) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Errors = slices.Clone(job.Errors)
	m.jobs[job.ID] = job
	return nil
}

// GetJob retrieves a job
func (m *MockJobStore) GetJob(ctx context.Context, id string) (*database.JobRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	return &job, nil
}

// ListJobs returns jobs newest first
func (m *MockJobStore) ListJobs(ctx context.Context, limit int) ([]database.JobRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.JobRecord, 0, len(m.jobs))
	for _, j := range m.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkInterrupted fails every unfinished job
func (m *MockJobStore) MarkInterrupted(ctx context.Context, message string) (int, error) {
	if m.MarkError != nil {
		return 0, m.MarkError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	count := 0
	for id, j := range m.jobs {
		if j.Status == "queued" || j.Status == "processing" {
			j.Status = "failed"
			j.Errors = append(j.Errors, message)
			j.CompletedAt = &now
			m.jobs[id] = j
			count++
		}
	}
	return count, nil
}

// Stores bundles one mock of every store
type Stores struct {
	Biometric    *MockBiometricStore
	Ledger       *MockAttendanceLedger
	UnknownFaces *MockUnknownFaceStore
	Jobs         *MockJobStore
}

// NewStores creates a connected set of mocks; purging a student clears its ledger rows.
func NewStores() *Stores {
	ledger := NewMockAttendanceLedger()
	bio := NewMockBiometricStore()
	bio.Ledger = ledger
	return &Stores{
		Biometric:    bio,
		Ledger:       ledger,
		UnknownFaces: NewMockUnknownFaceStore(),
		Jobs:         NewMockJobStore(),
	}
}

// Register installs the mocks as the active database backend.
func (s *Stores) Register() {
	database.RegisterBackend(database.Backend{
		Name:         "mock",
		Biometric:    func() database.BiometricWriter { return s.Biometric },
		Ledger:       func() database.AttendanceLedger { return s.Ledger },
		UnknownFaces: func() database.UnknownFaceStore { return s.UnknownFaces },
		Jobs:         func() database.JobStore { return s.Jobs },
	})
}
