package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
)

// AttendanceHandler handles the ledger, alumni cleanup and unknown faces.
type AttendanceHandler struct {
	service AttendanceService
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(service AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Roster handles GET /attendance/roster; date defaults to today.
func (h *AttendanceHandler) Roster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.service.Roster(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		respondServiceError(w, err, "failed to load roster")
		return
	}
	if roster.Records == nil {
		roster.Records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, roster)
}

// OverrideRequest is the body of POST /attendance/override.
type OverrideRequest struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	Division    *string `json:"division"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
}

// Override handles POST /attendance/override.
func (h *AttendanceHandler) Override(w http.ResponseWriter, r *http.Request) {
	var body OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	record, err := h.service.Override(r.Context(), attendance.OverrideRequest{
		StudentID: body.StudentID,
		Name:      body.StudentName,
		Division:  body.Division,
		Date:      body.Date,
		Status:    database.AttendanceStatus(body.Status),
	})
	if err != nil {
		respondServiceError(w, err, "failed to override attendance")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Student '%s' (%s) marked as %s for %s.",
			record.StudentName, record.StudentID, record.Status, record.Date),
		"record": record,
	})
}

// cleanupRequest is the body of POST /admin/alumni-cleanup.
type cleanupRequest struct {
	Cutoff *int `json:"graduation_year_cutoff"`
}

// Cleanup handles POST /admin/alumni-cleanup. An empty body uses the default cutoff.
func (h *AttendanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	result, err := h.service.Cleanup(r.Context(), body.Cutoff)
	if err != nil {
		respondServiceError(w, err, "failed to clean up alumni")
		return
	}
	if result.RemovedStudentIDs == nil {
		result.RemovedStudentIDs = []string{}
	}
	if result.Failures == nil {
		result.Failures = []attendance.CleanupFailure{}
	}
	respondJSON(w, http.StatusOK, result)
}

// UnknownFaces handles GET /unknown-faces.
func (h *AttendanceHandler) UnknownFaces(w http.ResponseWriter, r *http.Request) {
	faces, err := h.service.UnknownFaces(r.Context())
	if err != nil {
		respondServiceError(w, err, "failed to list unknown faces")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_count": len(faces),
		"faces":       faces,
	})
}
