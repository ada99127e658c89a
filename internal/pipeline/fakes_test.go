package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/video"
)

// fakeFrames serves a fixed list of frames for every video.
type fakeFrames struct {
	frames    int
	probe     video.Info
	probeErr  error
	sampleErr error
	// failAfter ends the sequence with an error after that many frames, when > 0
	failAfter int
	// block makes Next wait for the context after blockAfter frames
	block      bool
	blockAfter int
}

func (f *fakeFrames) Probe(ctx context.Context, path string) (video.Info, error) {
	if f.probeErr != nil {
		return video.Info{}, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeFrames) Sample(ctx context.Context, path string, fps float64) (video.FrameSequence, error) {
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	return &fakeSequence{ctx: ctx, src: f, fps: fps}, nil
}

type fakeSequence struct {
	ctx   context.Context
	src   *fakeFrames
	fps   float64
	index int
}

func (s *fakeSequence) Next() (video.Frame, error) {
	if s.src.block && s.index >= s.src.blockAfter {
		<-s.ctx.Done()
		return video.Frame{}, s.ctx.Err()
	}
	if s.src.failAfter > 0 && s.index >= s.src.failAfter {
		return video.Frame{}, errors.New("invalid NAL unit")
	}
	if s.index >= s.src.frames {
		return video.Frame{}, io.EOF
	}
	frame := video.Frame{
		Index:  s.index,
		Offset: time.Duration(float64(s.index) / s.fps * float64(time.Second)),
		Image:  image.NewRGBA(image.Rect(0, 0, 64, 48)),
	}
	s.index++
	return frame, nil
}

func (s *fakeSequence) Close() error { return nil }

// fakeDetector returns the observations scripted for each call.
type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	results [][]facematch.Observation
	errs    map[int]error
	panicAt int // 1-based call number, 0 disables
	onCall  func(call int)
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]facematch.Observation, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	d.mu.Unlock()

	if d.onCall != nil {
		d.onCall(call)
	}
	if d.panicAt > 0 && call+1 == d.panicAt {
		panic("detector exploded")
	}
	if err, ok := d.errs[call]; ok {
		return nil, err
	}
	if call < len(d.results) {
		return d.results[call], nil
	}
	return nil, nil
}

func face(x, y int, embedding ...float32) facematch.Observation {
	return facematch.Observation{Region: image.Rect(x, y, x+10, y+10), Embedding: embedding}
}

type testEnv struct {
	stores   *mock.Stores
	frames   *fakeFrames
	detector *fakeDetector
	archive  *archive.Archive
	orch     *Orchestrator
	dir      string
}

func newTestEnv(t *testing.T, frames *fakeFrames, detector *fakeDetector, opts Options) *testEnv {
	t.Helper()
	stores := mock.NewStores()
	dir := t.TempDir()

	arch, err := archive.New(filepath.Join(dir, "unknown_faces"), stores.UnknownFaces, database.RetryPolicy{Attempts: 1})
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}

	if opts.Retry.Backoff == 0 {
		opts.Retry.Backoff = time.Millisecond
	}
	orch, err := New(Dependencies{
		Biometric: stores.Biometric,
		Ledger:    stores.Ledger,
		Jobs:      stores.Jobs,
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

	return &testEnv{stores: stores, frames: frames, detector: detector, archive: arch, orch: orch, dir: dir}
}

func (e *testEnv) videoFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte("fake video payload"), 0o600); err != nil {
		t.Fatalf("failed to write video: %v", err)
	}
	return path
}

func (e *testEnv) submitAndWait(t *testing.T, req SubmitRequest) Job {
	t.Helper()
	job, err := e.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := e.orch.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	return done
}

func enrolled(id, name string, vectors ...[]float32) database.StudentRecord {
	division := "10A"
	rec := database.StudentRecord{StudentProfile: database.StudentProfile{StudentID: id, Name: name, Division: &division}}
	for _, v := range vectors {
		rec.Embeddings = append(rec.Embeddings, database.StoredEmbedding{Vector: v})
	}
	return rec
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, status Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.Status(context.Background(), id)
		if err == nil && job.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s", id, status)
}
