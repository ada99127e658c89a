package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/video"
)

// FrameSource inspects and decodes videos.
type FrameSource interface {
	Probe(ctx context.Context, path string) (video.Info, error)
	Sample(ctx context.Context, path string, fps float64) (video.FrameSequence, error)
}

// UnknownArchiver stores crops of unrecognised faces.
type UnknownArchiver interface {
	Save(ctx context.Context, capture archive.UnknownCapture) (archive.UnknownFace, error)
}

// Dependencies are the collaborators of the orchestrator.
type Dependencies struct {
	Biometric database.BiometricReader
	Ledger    database.AttendanceLedger
	Jobs      database.JobStore // optional
	Archive   UnknownArchiver
	Frames    FrameSource
	Detector  facematch.Detector
	Logger    *slog.Logger
}

// Options tune scheduling and processing.
type Options struct {
	FramesPerSecond       float64
	SnapshotRefreshFrames int // 0 disables refreshes
	MaxConcurrent         int
	Retry                 database.RetryPolicy
	MaxUploadBytes        int64         // 0 disables the check
	MaxVideoDuration      time.Duration // 0 disables the check
	Retention             time.Duration // how long finished jobs stay in memory
	Gallery               facematch.GalleryOptions
}

// OptionsFromConfig derives orchestrator options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FramesPerSecond:       cfg.Sampling.FramesPerSecond,
		SnapshotRefreshFrames: cfg.Sampling.SnapshotRefreshFrames,
		MaxConcurrent:         cfg.Jobs.MaxConcurrent,
		Retry: database.RetryPolicy{
			Attempts: cfg.Jobs.PersistenceRetries,
			Backoff:  cfg.Jobs.RetryBackoff,
		},
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		MaxVideoDuration: cfg.Limits.MaxVideoDuration,
		Retention:        cfg.Jobs.Retention,
		Gallery: facematch.GalleryOptions{
			Threshold:         cfg.Matching.Threshold,
			Metric:            cfg.Matching.Metric,
			UseHNSW:           cfg.Matching.Index == config.IndexHNSW,
			HNSWMinEmbeddings: cfg.Matching.HNSWMinEmbeddings,
			HNSWCandidates:    cfg.Matching.HNSWCandidates,
		},
	}
}

// SubmitRequest asks for one video to be processed.
type SubmitRequest struct {
	VideoPath    string
	RecordedAt   time.Time // defaults to the submission time
	RemoveSource bool      // delete the video once the job ends
}

// Orchestrator owns the lifecycle of processing jobs.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu   sync.RWMutex
	jobs map[string]*runningJob

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
	closed bool
}

// New creates an orchestrator. Jobs run until Shutdown is called.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Biometric == nil:
		return nil, errors.New("biometric store is required")
	case deps.Ledger == nil:
		return nil, errors.New("attendance ledger is required")
	case deps.Archive == nil:
		return nil, errors.New("unknown face archive is required")
	case deps.Frames == nil:
		return nil, errors.New("frame source is required")
	case deps.Detector == nil:
		return nil, errors.New("face detector is required")
	}
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = constants.DefaultFramesPerSecond
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = constants.DefaultMaxConcurrentJobs
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = constants.DefaultPersistenceRetries
	}
	if opts.Retention <= 0 {
		opts.Retention = constants.DefaultJobRetention
	}
	if opts.Gallery.Threshold <= 0 {
		opts.Gallery.Threshold = constants.DefaultMatchThreshold
	}
	if opts.Gallery.Metric == "" {
		opts.Gallery.Metric = config.MetricEuclidean
	}
	if _, err := database.DistanceFor(opts.Gallery.Metric); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  logger,
		now:  time.Now,
		jobs: make(map[string]*runningJob),
		sem:  make(chan struct{}, opts.MaxConcurrent),
		ctx:  ctx,
		stop: stop,
	}, nil
}

// RecoverInterrupted fails persisted jobs a previous process left unfinished.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	if o.deps.Jobs == nil {
		return 0, nil
	}
	n, err := o.deps.Jobs.MarkInterrupted(ctx, MessageInterrupted)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		o.log.Warn("marked interrupted jobs as failed", "count", n)
	}
	return n, nil
}

// Submit validates the video and queues a job for it. It returns as soon as
// the job is queued.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	if err := o.validate(ctx, req.VideoPath); err != nil {
		return Job{}, err
	}

	now := o.now()
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}

	jobCtx, cancel := context.WithCancel(o.ctx)
	j := &runningJob{
		state: Job{
			ID:          uuid.NewString(),
			Status:      StatusQueued,
			Errors:      []string{},
			SourceVideo: req.VideoPath,
			RecordedAt:  recordedAt,
			CreatedAt:   now,
		},
		path:         req.VideoPath,
		removeSource: req.RemoveSource,
		ctx:          jobCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return Job{}, errors.New("orchestrator is shut down")
	}
	o.jobs[j.state.ID] = j
	o.wg.Add(1)
	o.mu.Unlock()

	snapshot := j.snapshot()
	o.persist(ctx, snapshot)
	o.log.Info("job queued", "job_id", snapshot.ID, "video", snapshot.SourceVideo)

	go o.run(j)
	return snapshot, nil
}

func (o *Orchestrator) validate(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: video path is required", database.ErrInvalidInput)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: video %s is not readable: %w", database.ErrInvalidInput, path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", database.ErrInvalidInput, path)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: video %s is empty", database.ErrInvalidInput, path)
	}
	if o.opts.MaxUploadBytes > 0 && fi.Size() > o.opts.MaxUploadBytes {
		return fmt.Errorf("%w: video is %d bytes, limit is %d", database.ErrInvalidInput, fi.Size(), o.opts.MaxUploadBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: video %s is not readable: %w", database.ErrInvalidInput, path, err)
	}
	f.Close()

	if o.opts.MaxVideoDuration <= 0 {
		return nil
	}
	info, err := o.deps.Frames.Probe(ctx, path)
	if err != nil {
		// The job reports undecodable input when it runs.
		o.log.Warn("video probe failed", "video", path, "error", err)
		return nil
	}
	if info.Duration > o.opts.MaxVideoDuration {
		return fmt.Errorf("%w: video is %s long, limit is %s", database.ErrInvalidInput,
			info.Duration.Round(time.Second), o.opts.MaxVideoDuration)
	}
	return nil
}

// Status returns a snapshot of the job, falling back to the persisted store.
func (o *Orchestrator) Status(ctx context.Context, id string) (Job, error) {
	if j := o.lookup(id); j != nil {
		return j.snapshot(), nil
	}
	if o.deps.Jobs != nil {
		rec, err := o.deps.Jobs.GetJob(ctx, id)
		if err == nil {
			return jobFromRecord(*rec), nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return Job{}, fmt.Errorf("get job: %w", err)
		}
	}
	return Job{}, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
}

// List returns the jobs of this process merged with recently persisted ones,
// newest first.
func (o *Orchestrator) List(ctx context.Context) ([]Job, error) {
	o.mu.RLock()
	jobs := make([]Job, 0, len(o.jobs))
	seen := make(map[string]bool, len(o.jobs))
	for id, j := range o.jobs {
		jobs = append(jobs, j.snapshot())
		seen[id] = true
	}
	o.mu.RUnlock()

	if o.deps.Jobs != nil {
		records, err := o.deps.Jobs.ListJobs(ctx, constants.RecentJobsLimit)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, rec := range records {
			if !seen[rec.ID] {
				jobs = append(jobs, jobFromRecord(rec))
			}
		}
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})
	return jobs, nil
}

// Cancel stops a queued or processing job; it ends failed with "cancelled".
func (o *Orchestrator) Cancel(id string) error {
	j := o.lookup(id)
	if j == nil {
		return fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	if !j.markCancelled() {
		return fmt.Errorf("%w: job %s already finished", database.ErrInvalidInput, id)
	}
	j.cancel()
	return nil
}

// Wait blocks until the job is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Job, error) {
	j := o.lookup(id)
	if j == nil {
		job, err := o.Status(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if !job.Status.Terminal() {
			return Job{}, fmt.Errorf("job %s is not running in this process: %w", id, database.ErrNotFound)
		}
		return job, nil
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Subscription streams the events of one job.
type Subscription struct {
	Events <-chan Event
	job    *runningJob
	ch     chan Event
}

// Job returns the current snapshot of the subscribed job.
func (s *Subscription) Job() Job {
	return s.job.snapshot()
}

// Done is closed when the job reaches a terminal state.
func (s *Subscription) Done() <-chan struct{} {
	return s.job.done
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.job.RemoveListener(s.ch)
}

// Subscribe attaches a listener to a job of this process.
func (o *Orchestrator) Subscribe(id string) (*Subscription, error) {
	j := o.lookup(id)
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	ch := j.AddListener()
	return &Subscription{Events: ch, job: j, ch: ch}, nil
}

// Shutdown cancels every unfinished job and waits for them to persist their
// final state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (o *Orchestrator) lookup(id string) *runningJob {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.jobs[id]
}

// persist saves the job snapshot. Failures are logged and reported as false.
func (o *Orchestrator) persist(ctx context.Context, job Job) bool {
	if o.deps.Jobs == nil {
		return false
	}
	err := database.WithRetry(ctx, o.opts.Retry, func(ctx context.Context) error {
		return o.deps.Jobs.SaveJob(ctx, job.record())
	})
	if err != nil {
		o.log.Warn("failed to persist job", "job_id", job.ID, "status", job.Status, "error", err)
		return false
	}
	return true
}

// scheduleEviction drops a finished job from memory once the retention period
// has passed. Only jobs whose final state reached the job store are dropped;
// Status and Wait then serve them from the store.
func (o *Orchestrator) scheduleEviction(j *runningJob) {
	if !j.isPersisted() {
		return
	}
	time.AfterFunc(o.opts.Retention, func() { o.evict(j) })
}

func (o *Orchestrator) evict(j *runningJob) {
	// Streams still attached keep the job alive for another period.
	if j.ListenerCount() > 0 {
		time.AfterFunc(o.opts.Retention, func() { o.evict(j) })
		return
	}
	id := j.snapshot().ID
	o.mu.Lock()
	if o.jobs[id] == j {
		delete(o.jobs, id)
	}
	o.mu.Unlock()
}
