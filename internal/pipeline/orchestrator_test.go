package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/video"
)

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{probe: video.Info{Duration: 3 * time.Hour}}, &fakeDetector{}, Options{
		MaxUploadBytes:   10,
		MaxVideoDuration: 2 * time.Hour,
	})

	empty := env.videoFile(t, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	large := env.videoFile(t, "large.mp4") // 18 bytes > 10

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", env.dir + "/missing.mp4"},
		{"directory", env.dir},
		{"empty file", empty},
		{"too large", large},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: tt.path})
			if !errors.Is(err, database.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSubmit_DurationLimit(t *testing.T) {
	frames := &fakeFrames{probe: video.Info{Duration: 3 * time.Hour}}
	env := newTestEnv(t, frames, &fakeDetector{}, Options{MaxVideoDuration: 2 * time.Hour})

	_, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "long.mp4")})
	if !errors.Is(err, database.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for long video, got %v", err)
	}
}

func TestSubmit_ProbeFailureDoesNotReject(t *testing.T) {
	frames := &fakeFrames{probeErr: database.ErrUnsupportedFormat, sampleErr: database.ErrUnsupportedFormat}
	env := newTestEnv(t, frames, &fakeDetector{}, Options{MaxVideoDuration: time.Hour})

	job := env.submitAndWait(t, SubmitRequest{VideoPath: env.videoFile(t, "broken.mp4")})
	if job.Status != StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.FramesProcessed != 0 {
		t.Errorf("expected 0 frames, got %d", job.FramesProcessed)
	}
}

func TestSubmit_ReturnsQueued(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{block: true}, &fakeDetector{}, Options{})

	job, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
	if job.ID == "" || job.CreatedAt.IsZero() || job.RecordedAt.IsZero() {
		t.Errorf("expected id and timestamps, got %+v", job)
	}
	if job.Errors == nil {
		t.Error("expected empty errors slice, got nil")
	}
}

func TestStatus_FallsBackToStore(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{}, &fakeDetector{}, Options{})
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	_ = env.stores.Jobs.SaveJob(context.Background(), database.JobRecord{
		ID: "old-job", Status: "completed", FramesProcessed: 12, CreatedAt: created,
	})

	job, err := env.orch.Status(context.Background(), "old-job")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusCompleted || job.FramesProcessed != 12 {
		t.Errorf("unexpected job %+v", job)
	}

	if _, err := env.orch.Status(context.Background(), "nope"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{frames: 1}, &fakeDetector{}, Options{})
	_ = env.stores.Jobs.SaveJob(context.Background(), database.JobRecord{
		ID: "persisted", Status: "failed", CreatedAt: time.Now().Add(-time.Hour),
	})

	first := env.submitAndWait(t, SubmitRequest{VideoPath: env.videoFile(t, "1.mp4")})
	time.Sleep(2 * time.Millisecond)
	second := env.submitAndWait(t, SubmitRequest{VideoPath: env.videoFile(t, "2.mp4")})

	jobs, err := env.orch.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID || jobs[2].ID != "persisted" {
		t.Errorf("unexpected order: %s, %s, %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{frames: 10, block: true, blockAfter: 1}, &fakeDetector{}, Options{})

	job, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForStatus(t, env.orch, job.ID, StatusProcessing)

	if err := env.orch.Cancel(job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done, err := env.orch.Wait(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != StatusFailed {
		t.Errorf("expected failed, got %s", done.Status)
	}
	if len(done.Errors) == 0 || done.Errors[len(done.Errors)-1] != MessageCancelled {
		t.Errorf("expected cancelled error, got %v", done.Errors)
	}

	if err := env.orch.Cancel(job.ID); !errors.Is(err, database.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput cancelling a finished job, got %v", err)
	}
	if err := env.orch.Cancel("missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduling_RespectsConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{block: true}, &fakeDetector{}, Options{MaxConcurrent: 1})

	first, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "1.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env.orch, first.ID, StatusProcessing)

	second, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "2.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if s, _ := env.orch.Status(context.Background(), second.ID); s.Status != StatusQueued {
		t.Errorf("expected second job to stay queued, got %s", s.Status)
	}

	if err := env.orch.Cancel(first.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env.orch, second.ID, StatusProcessing)

	// Cancelling a queued job fails it without running.
	third, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "3.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.orch.Cancel(third.ID); err != nil {
		t.Fatal(err)
	}
	done, _ := env.orch.Wait(context.Background(), third.ID)
	if done.Status != StatusFailed || done.StartedAt != nil {
		t.Errorf("expected queued job to fail without starting, got %+v", done)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{}, &fakeDetector{}, Options{})
	ctx := context.Background()
	_ = env.stores.Jobs.SaveJob(ctx, database.JobRecord{ID: "a", Status: "processing", CreatedAt: time.Now()})
	_ = env.stores.Jobs.SaveJob(ctx, database.JobRecord{ID: "b", Status: "queued", CreatedAt: time.Now()})
	_ = env.stores.Jobs.SaveJob(ctx, database.JobRecord{ID: "c", Status: "completed", CreatedAt: time.Now()})

	n, err := env.orch.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 interrupted jobs, got %d", n)
	}

	job, _ := env.orch.Status(ctx, "a")
	if job.Status != StatusFailed || !strings.Contains(strings.Join(job.Errors, ";"), MessageInterrupted) {
		t.Errorf("expected interrupted failure, got %+v", job)
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{frames: 2, block: true, blockAfter: 0}, &fakeDetector{}, Options{})
	env.stores.Biometric.AddStudent(enrolled("S001", "Alice", []float32{0, 0}))

	job, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := env.orch.Subscribe(job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	if err := env.orch.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events:
			if ev.Type == EventFailed {
				if ev.Message != MessageCancelled {
					t.Errorf("expected cancelled message, got %q", ev.Message)
				}
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for failed event")
		}
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Dependencies{}, Options{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestOptionsDefaults(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{}, &fakeDetector{}, Options{})
	opts := env.orch.opts
	if opts.FramesPerSecond != 1 || opts.MaxConcurrent != 2 || opts.Retry.Attempts != 3 {
		t.Errorf("unexpected defaults %+v", opts)
	}
	if opts.Gallery.Threshold != 0.5 || opts.Gallery.Metric != "euclidean" {
		t.Errorf("unexpected gallery defaults %+v", opts.Gallery)
	}
	var _ facematch.Detector = env.detector
}

func waitForEviction(t *testing.T, o *Orchestrator, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for o.lookup(id) != nil {
		if time.Now().After(deadline) {
			t.Fatalf("job %s was not evicted", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFinishedJobsAreEvicted(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{frames: 1}, &fakeDetector{}, Options{Retention: 10 * time.Millisecond})

	job := env.submitAndWait(t, SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	waitForEviction(t, env.orch, job.ID)

	status, err := env.orch.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("expected status from the job store: %v", err)
	}
	if status.Status != StatusCompleted || status.FramesProcessed != 1 {
		t.Errorf("unexpected persisted job %+v", status)
	}
	if done, err := env.orch.Wait(context.Background(), job.ID); err != nil || done.Status != StatusCompleted {
		t.Errorf("expected Wait to serve the evicted job, got %+v, %v", done, err)
	}
	jobs, err := env.orch.List(context.Background())
	if err != nil || len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Errorf("expected the evicted job in listings, got %+v, %v", jobs, err)
	}
}

func TestEviction_WaitsForListeners(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{block: true}, &fakeDetector{}, Options{Retention: 10 * time.Millisecond})

	job, err := env.orch.Submit(context.Background(), SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := env.orch.Subscribe(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.orch.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.Wait(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if env.orch.lookup(job.ID) == nil {
		t.Fatal("expected a job with an attached listener to stay in memory")
	}

	sub.Close()
	waitForEviction(t, env.orch, job.ID)
}

func TestEviction_KeepsUnpersistedJobs(t *testing.T) {
	env := newTestEnv(t, &fakeFrames{frames: 1}, &fakeDetector{}, Options{Retention: 10 * time.Millisecond})
	env.stores.Jobs.SaveError = errors.New("disk full")

	job := env.submitAndWait(t, SubmitRequest{VideoPath: env.videoFile(t, "a.mp4")})
	time.Sleep(50 * time.Millisecond)

	status, err := env.orch.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("expected the job to stay in memory: %v", err)
	}
	if status.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", status.Status)
	}
}
