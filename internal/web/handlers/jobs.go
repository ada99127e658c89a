package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// JobsHandler exposes job status, listing, cancellation and live events.
type JobsHandler struct {
	jobs     JobService
	upgrader websocket.Upgrader
}

// NewJobsHandler creates a new jobs handler. checkOrigin decides which
// browser origins may open a websocket; nil only allows same-host origins.
func NewJobsHandler(jobs JobService, checkOrigin func(r *http.Request) bool) *JobsHandler {
	return &JobsHandler{
		jobs:     jobs,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// JobListResponse is the body of GET /jobs.
type JobListResponse struct {
	Total int            `json:"total_count"`
	Jobs  []pipeline.Job `json:"jobs"`
}

// List returns recent jobs, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		respondServiceError(w, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []pipeline.Job{}
	}
	respondJSON(w, http.StatusOK, JobListResponse{Total: len(jobs), Jobs: jobs})
}

// Get returns one job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}
	job, err := h.jobs.Status(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err, "failed to get job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// Cancel stops a queued or running job.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}
	if err := h.jobs.Cancel(jobID); err != nil {
		respondServiceError(w, err, "failed to cancel job")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "job cancelled", "job_id": jobID})
}
