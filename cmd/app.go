package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/database/sqlite"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/kozaktomas/rollcall/internal/video"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	archive    *archive.Archive
	sampler    *video.Sampler
	jobs       *pipeline.Orchestrator
	attendance *attendance.Service
}

// openBackend connects PostgreSQL when DATABASE_URL is set and the SQLite
// file otherwise, and registers it as the active backend.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Database.URL != "" {
		log.Info("connecting to PostgreSQL")
		if err := postgres.Initialize(ctx, &cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return nil
	}
	log.Info("using SQLite", "path", cfg.Database.SQLitePath)
	if _, err := sqlite.Initialize(ctx, cfg.Database.SQLitePath); err != nil {
		return fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	return nil
}

// openApp connects the storage backend and builds the services.
func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	if err := openBackend(ctx, cfg, log); err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		_ = database.ResetBackend()
		return nil, err
	}
	return a, nil
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	biometric, err := database.GetBiometricWriter(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := database.GetAttendanceLedger(ctx)
	if err != nil {
		return nil, err
	}
	unknown, err := database.GetUnknownFaceStore(ctx)
	if err != nil {
		return nil, err
	}
	jobStore, err := database.GetJobStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := database.RetryPolicy{Attempts: cfg.Jobs.PersistenceRetries, Backoff: cfg.Jobs.RetryBackoff}
	arch, err := archive.New(cfg.UnknownFacesDir(), unknown, retry)
	if err != nil {
		return nil, err
	}
	detector := embedding.NewClient(cfg.Embedding.URL)
	sampler := video.NewSampler(cfg.Sampling.FFmpegPath, cfg.Sampling.FFprobePath)

	jobs, err := pipeline.New(pipeline.Dependencies{
		Biometric: biometric,
		Ledger:    ledger,
		Jobs:      jobStore,
		Archive:   arch,
		Frames:    sampler,
		Detector:  detector,
		Logger:    log,
	}, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	svc, err := attendance.NewService(attendance.Dependencies{
		Biometric: biometric,
		Ledger:    ledger,
		Unknown:   arch,
		Detector:  detector,
		Logger:    log,
	}, attendance.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, archive: arch, sampler: sampler, jobs: jobs, attendance: svc}, nil
}

// Close stops running jobs and closes the storage backend.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.jobs.Shutdown(ctx), database.ResetBackend())
}

// acquireLock takes the data directory lock so a single process owns the
// job store and the upload directory.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another rollcall process owns %s", cfg.Storage.DataDir)
	}
	return lock, nil
}
