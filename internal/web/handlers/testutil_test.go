package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/archive"
	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/pipeline"
	"github.com/kozaktomas/rollcall/internal/video"
)

// testConfig creates a minimal config for testing
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.CurrentAcademicYear = 2026
	return cfg
}

// gatedFrames yields a fixed number of blank frames once release is closed.
type gatedFrames struct {
	frames  int
	release chan struct{}
}

func (g *gatedFrames) Probe(ctx context.Context, path string) (video.Info, error) {
	return video.Info{Path: path, Duration: time.Minute, Width: 64, Height: 48}, nil
}

func (g *gatedFrames) Sample(ctx context.Context, path string, fps float64) (video.FrameSequence, error) {
	return &gatedSequence{ctx: ctx, src: g}, nil
}

type gatedSequence struct {
	ctx   context.Context
	src   *gatedFrames
	index int
}

func (s *gatedSequence) Next() (video.Frame, error) {
	select {
	case <-s.src.release:
	case <-s.ctx.Done():
		return video.Frame{}, s.ctx.Err()
	}
	if s.index >= s.src.frames {
		return video.Frame{}, io.EOF
	}
	frame := video.Frame{Index: s.index, Offset: time.Duration(s.index) * time.Second, Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
	s.index++
	return frame, nil
}

func (s *gatedSequence) Close() error { return nil }

// staticDetector reports the same faces for every image.
type staticDetector struct {
	mu    sync.Mutex
	faces []facematch.Observation
}

func (d *staticDetector) Detect(ctx context.Context, img image.Image) ([]facematch.Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faces, nil
}

// testEnv wires the real orchestrator and attendance service to mock stores.
type testEnv struct {
	cfg        *config.Config
	stores     *mock.Stores
	frames     *gatedFrames
	detector   *staticDetector
	jobs       *pipeline.Orchestrator
	attendance *attendance.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	stores := mock.NewStores()
	retry := database.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}

	arch, err := archive.New(cfg.UnknownFacesDir(), stores.UnknownFaces, retry)
	if err != nil {
		t.Fatalf("archive.New() error = %v", err)
	}
	frames := &gatedFrames{frames: 2, release: make(chan struct{})}
	detector := &staticDetector{}

	jobs, err := pipeline.New(pipeline.Dependencies{
		Biometric: stores.Biometric,
		Ledger:    stores.Ledger,
		Jobs:      stores.Jobs,
		Archive:   arch,
		Frames:    frames,
		Detector:  detector,
	}, pipeline.Options{FramesPerSecond: 1, MaxConcurrent: 1, Retry: retry})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs.Shutdown(ctx)
	})

	svc, err := attendance.NewService(attendance.Dependencies{
		Biometric: stores.Biometric,
		Ledger:    stores.Ledger,
		Unknown:   arch,
		Detector:  detector,
	}, attendance.Options{Retry: retry, CurrentAcademicYear: 2026, MaxImageBytes: cfg.MaxImageBytes()})
	if err != nil {
		t.Fatalf("attendance.NewService() error = %v", err)
	}

	return &testEnv{cfg: cfg, stores: stores, frames: frames, detector: detector, jobs: jobs, attendance: svc}
}

// router mounts the handlers the way the server does, without middleware.
func (e *testEnv) router() *chi.Mux {
	jobs := NewJobsHandler(e.jobs, func(r *http.Request) bool {
		return r.Header.Get("Origin") != "https://evil.example"
	})
	upload := NewUploadHandler(e.cfg, e.jobs)
	students := NewStudentsHandler(e.cfg, e.attendance)
	att := NewAttendanceHandler(e.attendance)

	r := chi.NewRouter()
	r.Post("/api/v1/videos", upload.Upload)
	r.Get("/api/v1/jobs", jobs.List)
	r.Get("/api/v1/jobs/{jobId}", jobs.Get)
	r.Delete("/api/v1/jobs/{jobId}", jobs.Cancel)
	r.Get("/api/v1/jobs/{jobId}/events", jobs.Events)
	r.Get("/api/v1/jobs/{jobId}/ws", jobs.Websocket)
	r.Post("/api/v1/enroll", students.Enroll)
	r.Get("/api/v1/students", students.List)
	r.Get("/api/v1/attendance/roster", att.Roster)
	r.Post("/api/v1/attendance/override", att.Override)
	r.Post("/api/v1/admin/alumni-cleanup", att.Cleanup)
	r.Get("/api/v1/unknown-faces", att.UnknownFaces)
	return r
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router().ServeHTTP(rec, req)
	return rec
}

// multipartFile is one file part of a multipart request.
type multipartFile struct {
	field, name, contentType string
	data                     []byte
}

// multipartRequest builds a multipart POST request.
func multipartRequest(t *testing.T, path string, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="` + f.field + `"; filename="` + f.name + `"`}
		if f.contentType != "" {
			header["Content-Type"] = []string{f.contentType}
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		part.Write(f.data)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// pngBytes encodes a small solid image.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: 200, G: 150, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// waitForJob polls until the job reaches the status or the deadline passes.
func waitForJob(t *testing.T, jobs *pipeline.Orchestrator, id string, want pipeline.Status) pipeline.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		job, err := jobs.Status(ctx, id)
		if err == nil && job.Status == want {
			return job
		}
		select {
		case <-ctx.Done():
			t.Fatalf("job %s did not reach %s (last: %+v, err: %v)", id, want, job, err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
