// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultMatchThreshold is the maximum embedding distance at which a detected face
	// is attributed to an enrolled student. Lower values = stricter matching.
	DefaultMatchThreshold = 0.5

	// TieTolerance is the distance difference under which two candidates are considered equidistant
	TieTolerance = 1e-9

	// DefaultHNSWMinEmbeddings is the gallery size from which the HNSW index is consulted
	DefaultHNSWMinEmbeddings = 5000

	// DefaultHNSWCandidates is the number of nearest embeddings requested from the HNSW index
	DefaultHNSWCandidates = 32
)

// Sampling constants
const (
	// DefaultFramesPerSecond is the default number of frames analysed per second of video
	DefaultFramesPerSecond = 1.0

	// DefaultSnapshotRefreshFrames is the number of frames between biometric snapshot refreshes
	DefaultSnapshotRefreshFrames = 30

	// MaxFrameDimension is the maximum width or height of a frame sent to the detector
	MaxFrameDimension = 1920

	// FrameJPEGQuality is the JPEG quality used when a frame or crop is encoded
	FrameJPEGQuality = 90
)

// Job constants
const (
	// DefaultMaxConcurrentJobs is the number of jobs allowed in the processing state at once
	DefaultMaxConcurrentJobs = 2

	// DefaultPersistenceRetries is the number of attempts for a single ledger/archive/store write
	DefaultPersistenceRetries = 3

	// DefaultPersistenceBackoff is the delay before the second attempt; it doubles afterwards
	DefaultPersistenceBackoff = 50 * time.Millisecond

	// MaxPersistenceBackoff caps the retry delay
	MaxPersistenceBackoff = 2 * time.Second

	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// MaxJobErrors is the number of warnings kept on a job; later ones are only counted
	MaxJobErrors = 100

	// RecentJobsLimit is the number of persisted jobs merged into job listings
	RecentJobsLimit = 50

	// DefaultJobRetention is how long a finished job stays in memory before
	// it is served from the job store only
	DefaultJobRetention = 15 * time.Minute
)

// Upload constants
const (
	// DefaultMaxUploadSizeMB is the default maximum accepted video size in megabytes
	DefaultMaxUploadSizeMB = 500

	// DefaultMaxImageSizeMB is the default maximum accepted enrollment image size in megabytes
	DefaultMaxImageSizeMB = 10

	// DefaultMaxVideoDuration is the default maximum accepted video duration
	DefaultMaxVideoDuration = 2 * time.Hour

	// MultipartMemory is the amount of a multipart body kept in memory before spilling to disk
	MultipartMemory = 32 << 20
)

// Enrollment validation limits
const (
	MaxStudentIDLength = 64
	MaxNameLength      = 128
	MaxDivisionLength  = 16
	MinGraduationYear  = 2000
	MaxGraduationYear  = 2100
)

// Layout constants
const (
	// DateLayout is the calendar-day format used by the attendance ledger
	DateLayout = "2006-01-02"

	// TimeLayout is the time-of-day format used by the attendance ledger
	TimeLayout = "15:04:05"

	// UnknownFacesURLPrefix is the public URL prefix of archived unknown faces
	UnknownFacesURLPrefix = "/static/unknown_faces/"
)
