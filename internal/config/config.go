package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Supported face matching metrics.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// Supported gallery index modes.
const (
	IndexExact = "exact"
	IndexHNSW  = "hnsw"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Matching  MatchingConfig  `yaml:"matching"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Web       WebConfig       `yaml:"web"`

	// CurrentAcademicYear drives the default alumni cleanup cutoff
	CurrentAcademicYear int `yaml:"current_academic_year"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL, empty selects SQLite
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	SQLitePath   string `yaml:"sqlite_path"`    // defaults to <data_dir>/rollcall.db
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type EmbeddingConfig struct {
	URL string `yaml:"url"` // defaults to http://localhost:8000
}

type MatchingConfig struct {
	Threshold         float64 `yaml:"threshold"`
	Metric            string  `yaml:"metric"`
	Index             string  `yaml:"index"`
	HNSWMinEmbeddings int     `yaml:"hnsw_min_embeddings"`
	HNSWCandidates    int     `yaml:"hnsw_candidates"`
}

type SamplingConfig struct {
	FramesPerSecond       float64 `yaml:"frames_per_second"`
	SnapshotRefreshFrames int     `yaml:"snapshot_refresh_frames"`
	FFmpegPath            string  `yaml:"ffmpeg_path"`
	FFprobePath           string  `yaml:"ffprobe_path"`
}

type JobsConfig struct {
	MaxConcurrent      int           `yaml:"max_concurrent"`
	PersistenceRetries int           `yaml:"persistence_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	Retention          time.Duration `yaml:"retention"`
}

type LimitsConfig struct {
	MaxUploadSizeMB  int           `yaml:"max_upload_size_mb"`
	MaxImageSizeMB   int           `yaml:"max_image_size_mb"`
	MaxVideoDuration time.Duration `yaml:"max_video_duration"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`

	// AllowedOrigins receive CORS headers in addition to localhost
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UnknownFacesDir returns the directory holding archived unknown face crops.
func (c *Config) UnknownFacesDir() string {
	return filepath.Join(c.Storage.DataDir, "unknown_faces")
}

// UploadDir returns the directory holding uploaded videos until processed.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Storage.DataDir, "temp_videos")
}

// LockPath returns the path of the server process lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "rollcall.lock")
}

// MaxUploadBytes returns the video upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Limits.MaxUploadSizeMB) << 20
}

// MaxImageBytes returns the enrollment image limit in bytes.
func (c *Config) MaxImageBytes() int64 {
	return int64(c.Limits.MaxImageSizeMB) << 20
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Storage:   StorageConfig{DataDir: "data"},
		Embedding: EmbeddingConfig{URL: "http://localhost:8000"},
		Matching: MatchingConfig{
			Threshold:         constants.DefaultMatchThreshold,
			Metric:            MetricEuclidean,
			Index:             IndexExact,
			HNSWMinEmbeddings: constants.DefaultHNSWMinEmbeddings,
			HNSWCandidates:    constants.DefaultHNSWCandidates,
		},
		Sampling: SamplingConfig{
			FramesPerSecond:       constants.DefaultFramesPerSecond,
			SnapshotRefreshFrames: constants.DefaultSnapshotRefreshFrames,
			FFmpegPath:            "ffmpeg",
			FFprobePath:           "ffprobe",
		},
		Jobs: JobsConfig{
			MaxConcurrent:      constants.DefaultMaxConcurrentJobs,
			PersistenceRetries: constants.DefaultPersistenceRetries,
			RetryBackoff:       constants.DefaultPersistenceBackoff,
			Retention:          constants.DefaultJobRetention,
		},
		Limits: LimitsConfig{
			MaxUploadSizeMB:  constants.DefaultMaxUploadSizeMB,
			MaxImageSizeMB:   constants.DefaultMaxImageSizeMB,
			MaxVideoDuration: constants.DefaultMaxVideoDuration,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Web:     WebConfig{Host: "0.0.0.0", Port: 8080},

		CurrentAcademicYear: time.Now().Year(),
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("50ms", "2h").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration from defaults, the optional YAML file named by
// ROLLCALL_CONFIG, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("ROLLCALL_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = filepath.Join(cfg.Storage.DataDir, "rollcall.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.SQLitePath = envString("SQLITE_PATH", c.Database.SQLitePath)

	c.Storage.DataDir = envString("DATA_DIR", c.Storage.DataDir)
	c.Embedding.URL = envString("EMBEDDING_URL", c.Embedding.URL)

	c.Matching.Threshold = envFloat("FACE_MATCH_THRESHOLD", c.Matching.Threshold)
	c.Matching.Metric = strings.ToLower(envString("FACE_MATCH_METRIC", c.Matching.Metric))
	c.Matching.Index = strings.ToLower(envString("FACE_INDEX", c.Matching.Index))
	c.Matching.HNSWMinEmbeddings = envInt("HNSW_MIN_EMBEDDINGS", c.Matching.HNSWMinEmbeddings)
	c.Matching.HNSWCandidates = envInt("HNSW_CANDIDATES", c.Matching.HNSWCandidates)

	c.Sampling.FramesPerSecond = envFloat("FRAMES_PER_SECOND", c.Sampling.FramesPerSecond)
	c.Sampling.SnapshotRefreshFrames = envInt("SNAPSHOT_REFRESH_FRAMES", c.Sampling.SnapshotRefreshFrames)
	c.Sampling.FFmpegPath = envString("FFMPEG_PATH", c.Sampling.FFmpegPath)
	c.Sampling.FFprobePath = envString("FFPROBE_PATH", c.Sampling.FFprobePath)

	c.CurrentAcademicYear = envInt("CURRENT_ACADEMIC_YEAR", c.CurrentAcademicYear)

	c.Limits.MaxUploadSizeMB = envInt("MAX_UPLOAD_SIZE_MB", c.Limits.MaxUploadSizeMB)
	c.Limits.MaxImageSizeMB = envInt("MAX_IMAGE_SIZE_MB", c.Limits.MaxImageSizeMB)
	c.Limits.MaxVideoDuration = envDuration("MAX_VIDEO_DURATION", c.Limits.MaxVideoDuration)

	c.Jobs.MaxConcurrent = envInt("MAX_CONCURRENT_JOBS", c.Jobs.MaxConcurrent)
	c.Jobs.PersistenceRetries = envInt("PERSISTENCE_RETRIES", c.Jobs.PersistenceRetries)
	c.Jobs.RetryBackoff = envDuration("PERSISTENCE_RETRY_BACKOFF", c.Jobs.RetryBackoff)
	c.Jobs.Retention = envDuration("JOB_RETENTION", c.Jobs.Retention)

	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envString("LOG_FORMAT", c.Logging.Format)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.APIToken = envString("API_TOKEN", c.Web.APIToken)
	if env := os.Getenv("WEB_ALLOWED_ORIGINS"); env != "" {
		c.Web.AllowedOrigins = c.Web.AllowedOrigins[:0]
		for o := range strings.SplitSeq(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Web.AllowedOrigins = append(c.Web.AllowedOrigins, o)
			}
		}
	}
}

// Validate checks the values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Matching.Threshold <= 0 {
		errs = append(errs, errors.New("matching threshold must be positive"))
	}
	switch c.Matching.Metric {
	case MetricEuclidean, MetricCosine:
	default:
		errs = append(errs, fmt.Errorf("unknown matching metric %q", c.Matching.Metric))
	}
	switch c.Matching.Index {
	case IndexExact, IndexHNSW:
	default:
		errs = append(errs, fmt.Errorf("unknown face index %q", c.Matching.Index))
	}
	if c.Sampling.FramesPerSecond <= 0 {
		errs = append(errs, errors.New("frames per second must be positive"))
	}
	if c.Sampling.SnapshotRefreshFrames < 1 {
		errs = append(errs, errors.New("snapshot refresh frames must be at least 1"))
	}
	if c.Jobs.PersistenceRetries < 1 {
		errs = append(errs, errors.New("persistence retries must be at least 1"))
	}
	if c.Jobs.MaxConcurrent < 1 {
		errs = append(errs, errors.New("max concurrent jobs must be at least 1"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	return errors.Join(errs...)
}
