package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// JobService is the part of the orchestrator the handlers use.
type JobService interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (pipeline.Job, error)
	Status(ctx context.Context, id string) (pipeline.Job, error)
	List(ctx context.Context) ([]pipeline.Job, error)
	Cancel(id string) error
	Subscribe(id string) (*pipeline.Subscription, error)
}

// AttendanceService is the part of the attendance service the handlers use.
type AttendanceService interface {
	Enroll(ctx context.Context, req attendance.EnrollRequest) (attendance.EnrollResult, error)
	Override(ctx context.Context, req attendance.OverrideRequest) (database.AttendanceRecord, error)
	Roster(ctx context.Context, date string) (attendance.Roster, error)
	Cleanup(ctx context.Context, cutoff *int) (attendance.CleanupResult, error)
	Students(ctx context.Context, query string) ([]attendance.StudentSummary, error)
	UnknownFaces(ctx context.Context) ([]archive.UnknownFace, error)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the error taxonomy to a status code. Client errors
// carry the error text; server errors log it and send fallback instead.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, database.ErrInvalidInput), errors.Is(err, database.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error(fallback, "error", sanitizeForLog(err.Error()))
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": database.BackendName(),
	})
}
