// Package attendance implements the administrative operations around the
// ledger: enrollment, manual overrides, rosters, alumni cleanup and the
// unknown face listing.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// UnknownLister lists archived unknown faces.
type UnknownLister interface {
	List(ctx context.Context) ([]archive.UnknownFace, error)
}

// Dependencies are the stores and capabilities the service uses.
type Dependencies struct {
	Biometric database.BiometricWriter
	Ledger    database.AttendanceLedger
	Unknown   UnknownLister
	Detector  facematch.Detector
	Logger    *slog.Logger
}

// Options configure validation and retries.
type Options struct {
	Retry               database.RetryPolicy
	CurrentAcademicYear int
	MaxImageBytes       int64 // 0 disables the check
}

// OptionsFromConfig derives service options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry: database.RetryPolicy{
			Attempts: cfg.Jobs.PersistenceRetries,
			Backoff:  cfg.Jobs.RetryBackoff,
		},
		CurrentAcademicYear: cfg.CurrentAcademicYear,
		MaxImageBytes:       cfg.MaxImageBytes(),
	}
}

// Service implements the attendance operations.
type Service struct {
	deps Dependencies
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates the attendance service.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	if deps.Biometric == nil {
		return nil, errors.New("biometric store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("attendance ledger is required")
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = constants.DefaultPersistenceRetries
	}
	if opts.Retry.Backoff <= 0 {
		opts.Retry.Backoff = constants.DefaultPersistenceBackoff
	}
	if opts.CurrentAcademicYear == 0 {
		opts.CurrentAcademicYear = time.Now().Year()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, opts: opts, log: logger, now: time.Now}, nil
}

// UnknownFaces lists the archived unknown faces.
func (s *Service) UnknownFaces(ctx context.Context) ([]archive.UnknownFace, error) {
	if s.deps.Unknown == nil {
		return []archive.UnknownFace{}, nil
	}
	return s.deps.Unknown.List(ctx)
}
