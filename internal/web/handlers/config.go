package handlers

import (
	"net/http"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse lists the non-secret settings clients may display.
type ConfigResponse struct {
	Backend             string  `json:"backend"`
	MatchThreshold      float64 `json:"match_threshold"`
	Metric              string  `json:"metric"`
	Index               string  `json:"index"`
	FramesPerSecond     float64 `json:"frames_per_second"`
	MaxUploadSizeMB     int     `json:"max_upload_size_mb"`
	MaxImageSizeMB      int     `json:"max_image_size_mb"`
	MaxVideoDuration    string  `json:"max_video_duration"`
	MaxConcurrentJobs   int     `json:"max_concurrent_jobs"`
	CurrentAcademicYear int     `json:"current_academic_year"`
}

// Get returns the matching and limit settings
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		Backend:             database.BackendName(),
		MatchThreshold:      h.config.Matching.Threshold,
		Metric:              h.config.Matching.Metric,
		Index:               h.config.Matching.Index,
		FramesPerSecond:     h.config.Sampling.FramesPerSecond,
		MaxUploadSizeMB:     h.config.Limits.MaxUploadSizeMB,
		MaxImageSizeMB:      h.config.Limits.MaxImageSizeMB,
		MaxVideoDuration:    h.config.Limits.MaxVideoDuration.String(),
		MaxConcurrentJobs:   h.config.Jobs.MaxConcurrent,
		CurrentAcademicYear: h.config.CurrentAcademicYear,
	})
}
