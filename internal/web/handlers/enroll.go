package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
)

// StudentsHandler handles enrollment and the student roster.
type StudentsHandler struct {
	config  *config.Config
	service AttendanceService
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(cfg *config.Config, service AttendanceService) *StudentsHandler {
	return &StudentsHandler{config: cfg, service: service}
}

// EnrollResponse is the body of a successful enrollment.
type EnrollResponse struct {
	StudentID       string `json:"student_id"`
	EncodingsStored int    `json:"encodings_stored"`
	Added           int    `json:"added"`
	Created         bool   `json:"created"`
	Message         string `json:"message"`
}

// Enroll handles POST /enroll.
func (h *StudentsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := attendance.EnrollRequest{
		StudentID: r.FormValue("student_id"),
		Name:      r.FormValue("student_name"),
	}
	if division := r.FormValue("division"); division != "" {
		req.Division = &division
	}
	if v := strings.TrimSpace(r.FormValue("graduation_year")); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "graduation_year must be a number")
			return
		}
		req.GraduationYear = &year
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "at least one image is required")
		return
	}
	limit := h.config.MaxImageBytes()
	for _, fh := range files {
		if limit > 0 && fh.Size > limit {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image %s exceeds the %d MB limit", fh.Filename, h.config.Limits.MaxImageSizeMB))
			return
		}
		data, err := readUploadedFile(fh)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Images = append(req.Images, data)
	}

	result, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		respondServiceError(w, err, "failed to enroll student")
		return
	}

	respondJSON(w, http.StatusOK, EnrollResponse{
		StudentID:       result.StudentID,
		EncodingsStored: result.EncodingsStored,
		Added:           result.Added,
		Created:         result.Created,
		Message: fmt.Sprintf("Successfully enrolled %d new encoding(s) for student '%s' (%s).",
			result.Added, strings.TrimSpace(req.Name), result.StudentID),
	})
}

// List handles GET /students with an optional q name filter.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.Students(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, err, "failed to list students")
		return
	}
	if students == nil {
		students = []attendance.StudentSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_count": len(students),
		"students":    students,
	})
}

func readUploadedFile(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	return data, nil
}
