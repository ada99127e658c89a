package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/video"
)

// run waits for a processing slot, processes the video and records the outcome.
func (o *Orchestrator) run(j *runningJob) {
	defer o.wg.Done()
	defer o.scheduleEviction(j)
	defer close(j.done)
	defer j.cancel()

	log := o.log.With("job_id", j.state.ID, "video", j.path)

	select {
	case o.sem <- struct{}{}:
	case <-j.ctx.Done():
		o.finish(j, log, o.interruption(j))
		return
	}
	defer func() { <-o.sem }()

	started := o.now()
	snapshot := j.update(func(s *Job) {
		s.Status = StatusProcessing
		s.StartedAt = &started
	})
	o.persist(j.ctx, snapshot)
	j.SendEvent(Event{Type: EventStarted, Data: snapshot})
	log.Info("job started")

	o.finish(j, log, o.execute(j, log))
}

// execute runs the job, converting a panic into an error.
func (o *Orchestrator) execute(j *runningJob, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", database.ErrFatalPipeline, r)
		}
	}()
	err = o.process(j.ctx, j, log)
	if err != nil && j.ctx.Err() != nil {
		return o.interruption(j)
	}
	return err
}

func (o *Orchestrator) interruption(j *runningJob) error {
	if j.wasCancelled() {
		return errors.New(MessageCancelled)
	}
	return errors.New(MessageShutdown)
}

// finish moves the job to its terminal state, persists it and removes the
// source video when requested.
func (o *Orchestrator) finish(j *runningJob, log *slog.Logger, runErr error) {
	completed := o.now()
	snapshot := j.update(func(s *Job) {
		s.CompletedAt = &completed
		if runErr != nil {
			s.Status = StatusFailed
			s.Errors = append(s.Errors, runErr.Error())
		} else {
			s.Status = StatusCompleted
		}
		if j.suppressed > 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("%d further warnings suppressed", j.suppressed))
		}
	})

	// The job context may already be cancelled; the final state must still be saved.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if o.persist(ctx, snapshot) {
		j.markPersisted()
	}

	if j.removeSource {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove source video", "error", err)
		}
	}

	if runErr != nil {
		log.Error("job failed", "error", runErr, "frames", snapshot.FramesProcessed)
		j.SendEvent(Event{Type: EventFailed, Message: runErr.Error(), Data: snapshot})
		return
	}
	log.Info("job completed",
		"frames", snapshot.FramesProcessed,
		"faces", snapshot.FacesDetected,
		"students", snapshot.StudentsMatched,
		"unknown", snapshot.UnknownFacesSaved,
		"warnings", len(snapshot.Errors),
	)
	j.SendEvent(Event{Type: EventCompleted, Data: snapshot})
}

// warn records a non-fatal problem on the job.
func (o *Orchestrator) warn(j *runningJob, log *slog.Logger, msg string, attrs ...any) {
	j.addError(msg)
	log.Warn(msg, attrs...)
	j.SendEvent(Event{Type: EventWarning, Message: msg})
}

func (o *Orchestrator) loadGallery(ctx context.Context) (*facematch.Gallery, error) {
	var records []database.StudentRecord
	err := database.WithRetry(ctx, o.opts.Retry, func(ctx context.Context) error {
		var err error
		records, err = o.deps.Biometric.AllStudents(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return facematch.NewGallery(records, o.opts.Gallery)
}

// frameRun carries the per-job state of the frame loop.
type frameRun struct {
	job     *runningJob
	log     *slog.Logger
	gallery *facematch.Gallery
	tracker *facematch.Tracker
}

func (o *Orchestrator) process(ctx context.Context, j *runningJob, log *slog.Logger) error {
	gallery, err := o.loadGallery(ctx)
	if err != nil {
		return fmt.Errorf("%w: load biometric store: %w", database.ErrFatalPipeline, err)
	}
	if gallery.Size() == 0 {
		o.warn(j, log, "biometric store is empty; every face will be unknown")
	}

	seq, err := o.deps.Frames.Sample(ctx, j.path, o.opts.FramesPerSecond)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer seq.Close()

	fr := &frameRun{
		job:     j,
		log:     log,
		gallery: gallery,
		tracker: facematch.NewTracker(gallery.Threshold(), gallery.Distance()),
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := seq.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if processed == 0 {
				return fmt.Errorf("decode video: %w", err)
			}
			o.warn(j, log, fmt.Sprintf("decoding stopped after frame %d: %v", processed, err), "frame", processed, "error", err)
			return nil
		}

		if refresh := o.opts.SnapshotRefreshFrames; refresh > 0 && processed > 0 && processed%refresh == 0 {
			if g, err := o.loadGallery(ctx); err != nil {
				o.warn(j, log, fmt.Sprintf("frame %d: refresh biometric snapshot: %v", frame.Index, err), "frame", frame.Index, "error", err)
			} else {
				fr.gallery = g
			}
		}

		processed++
		j.update(func(s *Job) { s.FramesProcessed = processed })

		o.processFrame(ctx, fr, frame)

		j.SendEvent(Event{Type: EventProgress, Data: j.snapshot()})
	}
}

func (o *Orchestrator) processFrame(ctx context.Context, fr *frameRun, frame video.Frame) {
	observations, err := o.deps.Detector.Detect(ctx, frame.Image)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.warn(fr.job, fr.log, fmt.Sprintf("frame %d: %v", frame.Index, err), "frame", frame.Index, "error", err)
		return
	}
	fr.job.update(func(s *Job) { s.FacesDetected += len(observations) })

	for _, obs := range observations {
		if ctx.Err() != nil {
			return
		}
		result := fr.gallery.Classify(obs.Embedding)
		if result.Matched {
			o.recordMatch(ctx, fr, frame, result)
		} else {
			o.archiveUnknown(ctx, fr, frame, obs)
		}
	}
}

func (o *Orchestrator) observedAt(j *runningJob, frame video.Frame) time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.RecordedAt.Add(frame.Offset)
}

func (o *Orchestrator) recordMatch(ctx context.Context, fr *frameRun, frame video.Frame, result facematch.Classification) {
	first := fr.tracker.ObserveMatch(result.StudentID)
	fr.job.update(func(s *Job) {
		s.StudentsMatched = fr.tracker.MatchedStudents()
		s.MatchDetections = fr.tracker.MatchDetections()
	})
	if !first {
		return
	}

	at := o.observedAt(fr.job, frame)
	rec := database.AttendanceRecord{
		StudentID:   result.StudentID,
		StudentName: result.Name,
		Division:    result.Division,
		Date:        at.Format(constants.DateLayout),
		Time:        at.Format(constants.TimeLayout),
		Status:      database.StatusPresent,
	}

	var created bool
	err := database.WithRetry(ctx, o.opts.Retry, func(ctx context.Context) error {
		var err error
		_, created, err = o.deps.Ledger.UpsertPresent(ctx, rec)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.warn(fr.job, fr.log, fmt.Sprintf("frame %d: record attendance for %s: %v", frame.Index, result.StudentID, err),
			"frame", frame.Index, "student_id", result.StudentID, "error", err)
		return
	}

	fr.log.Debug("student matched", "student_id", result.StudentID, "distance", result.Distance, "frame", frame.Index, "created", created)
	fr.job.SendEvent(Event{Type: EventMatched, Data: MatchedData{
		StudentID:   result.StudentID,
		StudentName: result.Name,
		Distance:    result.Distance,
		Frame:       frame.Index,
		Created:     created,
	}})
}

func (o *Orchestrator) archiveUnknown(ctx context.Context, fr *frameRun, frame video.Frame, obs facematch.Observation) {
	if !fr.tracker.ClaimUnknown(obs.Embedding) {
		return
	}

	crop, err := facematch.CropFace(frame.Image, obs.Region)
	if err != nil {
		o.warn(fr.job, fr.log, fmt.Sprintf("frame %d: crop unknown face: %v", frame.Index, err), "frame", frame.Index, "error", err)
		return
	}

	face, err := o.deps.Archive.Save(ctx, archive.UnknownCapture{
		JobID:       fr.job.state.ID,
		DetectedAt:  o.observedAt(fr.job, frame),
		FrameOffset: frame.Offset,
		Region:      obs.Region,
		Image:       crop,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.warn(fr.job, fr.log, fmt.Sprintf("frame %d: archive unknown face: %v", frame.Index, err), "frame", frame.Index, "error", err)
		return
	}

	fr.job.update(func(s *Job) { s.UnknownFacesSaved++ })
	fr.job.SendEvent(Event{Type: EventUnknownSaved, Data: face})
}
