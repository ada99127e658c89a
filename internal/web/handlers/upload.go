package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// allowedVideoExtensions are accepted regardless of the declared content type.
var allowedVideoExtensions = map[string]bool{
	".mp4": true, ".mpeg": true, ".mpg": true, ".avi": true, ".mov": true,
	".mkv": true, ".webm": true, ".m4v": true, ".3gp": true, ".wmv": true,
}

// allowedVideoTypes are accepted regardless of the file extension.
var allowedVideoTypes = map[string]bool{
	"video/mp4": true, "video/mpeg": true, "video/x-msvideo": true,
	"video/quicktime": true, "video/x-matroska": true, "video/webm": true,
	"video/x-m4v": true, "video/3gpp": true, "application/octet-stream": true,
}

const uploadAcceptedMessage = "Video uploaded successfully. Face recognition processing has started in the background."

// UploadHandler accepts classroom videos and starts processing jobs.
type UploadHandler struct {
	config *config.Config
	jobs   JobService
	now    func() time.Time
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(cfg *config.Config, jobs JobService) *UploadHandler {
	return &UploadHandler{
		config: cfg,
		jobs:   jobs,
		now:    time.Now,
	}
}

// UploadResponse is the body of an accepted upload.
type UploadResponse struct {
	JobID         string `json:"job_id"`
	Message       string `json:"message"`
	VideoFilename string `json:"video_filename"`
}

// Upload handles POST /videos.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.config.MaxUploadBytes()
	if limit > 0 {
		// Room for the multipart envelope and the other fields.
		r.Body = http.MaxBytesReader(w, r.Body, limit+constants.MultipartMemory)
	}
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("video exceeds the %d MB limit", h.config.Limits.MaxUploadSizeMB))
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedVideoExtensions[ext] && !allowedVideoTypes[header.Header.Get("Content-Type")] {
		respondError(w, http.StatusBadRequest, "unsupported video format")
		return
	}
	if header.Size == 0 {
		respondError(w, http.StatusBadRequest, "video file is empty")
		return
	}
	if limit > 0 && header.Size > limit {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("video exceeds the %d MB limit", h.config.Limits.MaxUploadSizeMB))
		return
	}

	recordedAt := time.Time{}
	if v := r.FormValue("recorded_at"); v != "" {
		recordedAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "recorded_at must be an RFC3339 timestamp")
			return
		}
	}

	if !allowedVideoExtensions[ext] {
		ext = ".mp4"
	}
	name := uploadFilename(h.now(), ext)
	path, err := saveUploadedFile(file, h.config.UploadDir(), name)
	if err != nil {
		slog.Error("failed to save upload", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save video")
		return
	}

	job, err := h.jobs.Submit(r.Context(), pipeline.SubmitRequest{
		VideoPath:    path,
		RecordedAt:   recordedAt,
		RemoveSource: true,
	})
	if err != nil {
		os.Remove(path)
		respondServiceError(w, err, "failed to start processing")
		return
	}

	slog.Info("video accepted", "job_id", job.ID, "video", name, "size", header.Size)
	respondJSON(w, http.StatusAccepted, UploadResponse{
		JobID:         job.ID,
		Message:       uploadAcceptedMessage,
		VideoFilename: name,
	})
}

// uploadFilename returns a collision-free name that keeps the upload time.
func uploadFilename(now time.Time, ext string) string {
	return fmt.Sprintf("upload_%s_%s%s", now.Format("20060102_150405"), uuid.NewString()[:8], ext)
}

// saveUploadedFile copies an uploaded part into dir and returns its path.
func saveUploadedFile(src multipart.File, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path) //nolint:gosec // name is generated
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}
