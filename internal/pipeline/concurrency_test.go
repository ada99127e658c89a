package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/database/sqlite"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// storeSet is one backend's view of every store the pipeline writes to.
type storeSet struct {
	biometric database.BiometricWriter
	ledger    database.AttendanceLedger
	unknown   database.UnknownFaceStore
	jobs      database.JobStore
}

var backends = []struct {
	name string
	open func(t *testing.T) storeSet
}{
	{"mock", func(t *testing.T) storeSet {
		s := mock.NewStores()
		return storeSet{biometric: s.Biometric, ledger: s.Ledger, unknown: s.UnknownFaces, jobs: s.Jobs}
	}},
	{"sqlite", func(t *testing.T) storeSet {
		store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "rollcall.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return storeSet{biometric: store, ledger: store, unknown: store, jobs: store}
	}},
}

// gatedDetector finds the same faces in every frame, but only once release is closed.
type gatedDetector struct {
	release <-chan struct{}
	faces   []facematch.Observation
	calls   atomic.Int32
}

func (d *gatedDetector) Detect(ctx context.Context, img image.Image) ([]facematch.Observation, error) {
	d.calls.Add(1)
	select {
	case <-d.release:
		return d.faces, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newStoreOrchestrator(t *testing.T, stores storeSet, frames FrameSource, detector facematch.Detector, opts Options) (*Orchestrator, *archive.Archive) {
	t.Helper()
	arch, err := archive.New(filepath.Join(t.TempDir(), "unknown_faces"), stores.unknown, database.RetryPolicy{Attempts: 1})
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	if opts.Retry.Backoff == 0 {
		opts.Retry.Backoff = time.Millisecond
	}
	orch, err := New(Dependencies{
		Biometric: stores.biometric,
		Ledger:    stores.ledger,
		Jobs:      stores.jobs,
		Archive:   arch,
		Frames:    frames,
		Detector:  detector,
	}, opts)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return orch, arch
}

func enrollAlice(t *testing.T, stores storeSet) {
	t.Helper()
	division := "10A"
	profile := database.StudentProfile{StudentID: "S001", Name: "Alice", Division: &division}
	if _, err := stores.biometric.Enroll(context.Background(), profile, [][]float32{{0, 0}}); err != nil {
		t.Fatalf("enroll: %v", err)
	}
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake video payload"), 0o600); err != nil {
		t.Fatalf("failed to write video: %v", err)
	}
	return path
}

// createdMatches reads a subscription until the job ends and counts matched
// events that created the ledger row.
func createdMatches(t *testing.T, sub *Subscription) int {
	t.Helper()
	created := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return created
			}
			if data, isMatch := ev.Data.(MatchedData); isMatch && data.Created {
				created++
			}
			if ev.Type == EventCompleted || ev.Type == EventFailed {
				return created
			}
		case <-timeout:
			t.Fatal("timed out waiting for job events")
			return created
		}
	}
}

func TestConcurrentJobs_SameStudentWritesOnce(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			stores := backend.open(t)
			enrollAlice(t, stores)

			release := make(chan struct{})
			detector := &gatedDetector{release: release, faces: []facematch.Observation{face(5, 5, 0.1, 0)}}
			orch, _ := newStoreOrchestrator(t, stores, &fakeFrames{frames: 3}, detector, Options{MaxConcurrent: 2})

			first, err := orch.Submit(context.Background(), SubmitRequest{VideoPath: writeVideo(t, "a.mp4"), RecordedAt: recordedAt})
			if err != nil {
				t.Fatal(err)
			}
			second, err := orch.Submit(context.Background(), SubmitRequest{VideoPath: writeVideo(t, "b.mp4"), RecordedAt: recordedAt.Add(5 * time.Second)})
			if err != nil {
				t.Fatal(err)
			}
			waitForStatus(t, orch, first.ID, StatusProcessing)
			waitForStatus(t, orch, second.ID, StatusProcessing)

			subs := make([]*Subscription, 0, 2)
			for _, id := range []string{first.ID, second.ID} {
				sub, err := orch.Subscribe(id)
				if err != nil {
					t.Fatal(err)
				}
				defer sub.Close()
				subs = append(subs, sub)
			}

			// Both jobs sit in detection on their first frame before either writes.
			deadline := time.Now().Add(5 * time.Second)
			for detector.calls.Load() < 2 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			close(release)

			created := 0
			for _, sub := range subs {
				created += createdMatches(t, sub)
			}
			for _, id := range []string{first.ID, second.ID} {
				job, err := orch.Wait(context.Background(), id)
				if err != nil {
					t.Fatal(err)
				}
				if job.Status != StatusCompleted || job.StudentsMatched != 1 {
					t.Errorf("job %s: expected completed with 1 student, got %s / %d (%v)", id, job.Status, job.StudentsMatched, job.Errors)
				}
			}

			if created != 1 {
				t.Errorf("expected exactly one job to create the row, got %d", created)
			}
			rows, err := stores.ledger.Query(context.Background(), "2026-03-09")
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Fatalf("expected 1 attendance row, got %d: %+v", len(rows), rows)
			}
			// The row carries the first frame of whichever job committed first.
			if !slices.Contains([]string{"08:00:00", "08:00:05"}, rows[0].Time) {
				t.Errorf("expected a first-frame time, got %s", rows[0].Time)
			}
			if rows[0].Status != database.StatusPresent {
				t.Errorf("expected present, got %s", rows[0].Status)
			}
		})
	}
}

func TestConcurrentJob_OverrideWins(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			stores := backend.open(t)
			enrollAlice(t, stores)

			release := make(chan struct{})
			detector := &gatedDetector{release: release, faces: []facematch.Observation{face(5, 5, 0.1, 0)}}
			orch, _ := newStoreOrchestrator(t, stores, &fakeFrames{frames: 2}, detector, Options{})

			job, err := orch.Submit(context.Background(), SubmitRequest{VideoPath: writeVideo(t, "a.mp4"), RecordedAt: recordedAt})
			if err != nil {
				t.Fatal(err)
			}
			waitForStatus(t, orch, job.ID, StatusProcessing)

			division := "10A"
			override := database.AttendanceRecord{
				StudentID: "S001", StudentName: "Alice", Division: &division,
				Date: "2026-03-09", Time: "09:15:00", Status: database.StatusAbsent,
			}
			var wg sync.WaitGroup
			var overrideErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, overrideErr = stores.ledger.SetStatus(context.Background(), override)
			}()
			close(release)
			wg.Wait()
			if overrideErr != nil {
				t.Fatalf("override: %v", overrideErr)
			}

			done, err := orch.Wait(context.Background(), job.ID)
			if err != nil {
				t.Fatal(err)
			}
			if done.Status != StatusCompleted {
				t.Fatalf("expected completed, got %s (%v)", done.Status, done.Errors)
			}

			rows, err := stores.ledger.Query(context.Background(), "2026-03-09")
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Fatalf("expected 1 attendance row, got %d", len(rows))
			}
			if rows[0].Status != database.StatusAbsent || rows[0].Time != "09:15:00" {
				t.Errorf("expected the override to stand, got %+v", rows[0])
			}
			if rows[0].Division == nil || *rows[0].Division != "10A" {
				t.Errorf("expected division 10A, got %v", rows[0].Division)
			}
		})
	}
}

func TestLedger_ConcurrentUpsertAndOverride(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			stores := backend.open(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			var createdCount atomic.Int32
			errs := make(chan error, 21)
			for i := range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, created, err := stores.ledger.UpsertPresent(ctx, database.AttendanceRecord{
						StudentID: "S001", StudentName: "Alice", Date: "2026-03-09",
						Time: fmt.Sprintf("08:00:%02d", i), Status: database.StatusPresent,
					})
					if err != nil {
						errs <- err
						return
					}
					if created {
						createdCount.Add(1)
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := stores.ledger.SetStatus(ctx, database.AttendanceRecord{
					StudentID: "S001", StudentName: "Alice", Date: "2026-03-09", Time: "09:00:00", Status: database.StatusAbsent,
				}); err != nil {
					errs <- err
				}
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("unexpected write error: %v", err)
			}

			if createdCount.Load() > 1 {
				t.Errorf("expected at most one created row, got %d", createdCount.Load())
			}
			rows, err := stores.ledger.Query(ctx, "2026-03-09")
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(rows))
			}
			if rows[0].Status != database.StatusAbsent || rows[0].Time != "09:00:00" {
				t.Errorf("expected the override to win, got %+v", rows[0])
			}
		})
	}
}

func TestCancel_KeepsCommittedWrites(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			stores := backend.open(t)
			enrollAlice(t, stores)

			detector := &fakeDetector{results: [][]facematch.Observation{
				{face(5, 5, 0.1, 0)},
				{face(30, 20, 5, 5)},
			}}
			frames := &fakeFrames{frames: 10, block: true, blockAfter: 2}
			orch, arch := newStoreOrchestrator(t, stores, frames, detector, Options{})

			job, err := orch.Submit(context.Background(), SubmitRequest{VideoPath: writeVideo(t, "a.mp4"), RecordedAt: recordedAt})
			if err != nil {
				t.Fatal(err)
			}

			deadline := time.Now().Add(5 * time.Second)
			for {
				s, _ := orch.Status(context.Background(), job.ID)
				if s.FramesProcessed == 2 && s.UnknownFacesSaved == 1 {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("job did not process two frames: %+v", s)
				}
				time.Sleep(time.Millisecond)
			}

			if err := orch.Cancel(job.ID); err != nil {
				t.Fatal(err)
			}
			done, err := orch.Wait(context.Background(), job.ID)
			if err != nil {
				t.Fatal(err)
			}
			if done.Status != StatusFailed || done.Errors[len(done.Errors)-1] != MessageCancelled {
				t.Fatalf("expected cancelled failure, got %s %v", done.Status, done.Errors)
			}

			rows, err := stores.ledger.Query(context.Background(), "2026-03-09")
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 || rows[0].StudentID != "S001" || rows[0].Time != "08:00:00" {
				t.Errorf("expected the attendance row to survive cancellation, got %+v", rows)
			}

			faces, err := arch.List(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(faces) != 1 || faces[0].JobID != job.ID {
				t.Fatalf("expected the archived face to survive cancellation, got %+v", faces)
			}
			if _, err := os.Stat(filepath.Join(arch.Dir(), faces[0].Filename)); err != nil {
				t.Errorf("expected archived image on disk: %v", err)
			}
		})
	}
}
