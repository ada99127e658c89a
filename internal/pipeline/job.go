// Package pipeline turns submitted classroom videos into attendance records.
// Each job samples frames, detects faces, matches them against the biometric
// gallery and writes the first sighting of every student to the ledger.
package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

// Status is the lifecycle state of a job.
type Status string

// Status constants define the lifecycle states of a job.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Messages recorded when a job ends without finishing its video.
const (
	MessageCancelled   = "cancelled"
	MessageInterrupted = "interrupted by restart"
	MessageShutdown    = "interrupted by shutdown"
)

// Job is a snapshot of a video processing job.
type Job struct {
	ID                string     `json:"job_id"`
	Status            Status     `json:"status"`
	FramesProcessed   int        `json:"frames_processed"`
	FacesDetected     int        `json:"faces_detected"`
	StudentsMatched   int        `json:"students_matched"`
	MatchDetections   int        `json:"match_detections"`
	UnknownFacesSaved int        `json:"unknown_faces_saved"`
	Errors            []string   `json:"errors"`
	SourceVideo       string     `json:"source_video"`
	RecordedAt        time.Time  `json:"recorded_at"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func (j Job) clone() Job {
	j.Errors = slices.Clone(j.Errors)
	if j.Errors == nil {
		j.Errors = []string{}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

func (j Job) record() database.JobRecord {
	return database.JobRecord{
		ID:                j.ID,
		Status:            string(j.Status),
		FramesProcessed:   j.FramesProcessed,
		FacesDetected:     j.FacesDetected,
		StudentsMatched:   j.StudentsMatched,
		MatchDetections:   j.MatchDetections,
		UnknownFacesSaved: j.UnknownFacesSaved,
		Errors:            slices.Clone(j.Errors),
		SourceVideo:       j.SourceVideo,
		RecordedAt:        j.RecordedAt,
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
	}
}

func jobFromRecord(rec database.JobRecord) Job {
	return Job{
		ID:                rec.ID,
		Status:            Status(rec.Status),
		FramesProcessed:   rec.FramesProcessed,
		FacesDetected:     rec.FacesDetected,
		StudentsMatched:   rec.StudentsMatched,
		MatchDetections:   rec.MatchDetections,
		UnknownFacesSaved: rec.UnknownFacesSaved,
		Errors:            rec.Errors,
		SourceVideo:       rec.SourceVideo,
		RecordedAt:        rec.RecordedAt,
		CreatedAt:         rec.CreatedAt,
		StartedAt:         rec.StartedAt,
		CompletedAt:       rec.CompletedAt,
	}.clone()
}

// runningJob is the orchestrator's live view of a job.
type runningJob struct {
	EventBroadcaster

	mu           sync.RWMutex
	state        Job
	suppressed   int
	path         string
	removeSource bool
	cancelled    bool
	persisted    bool // final state saved to the job store

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *runningJob) snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.clone()
}

func (j *runningJob) status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Status
}

func (j *runningJob) update(fn func(*Job)) Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.state)
	return j.state.clone()
}

// addError appends a warning, keeping at most MaxJobErrors of them.
func (j *runningJob) addError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.state.Errors) >= constants.MaxJobErrors {
		j.suppressed++
		return
	}
	j.state.Errors = append(j.state.Errors, msg)
}

func (j *runningJob) markCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Status.Terminal() {
		return false
	}
	j.cancelled = true
	return true
}

func (j *runningJob) wasCancelled() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelled
}

func (j *runningJob) markPersisted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.persisted = true
}

func (j *runningJob) isPersisted() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.persisted
}
