package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

const maxStderrBytes = 8 << 10

// Frame is one sampled frame. Offset is the position in the recording.
type Frame struct {
	Index  int
	Offset time.Duration
	Image  *image.RGBA
}

// FrameSequence yields frames in order. Next returns io.EOF after the last
// frame. A sequence cannot be restarted.
type FrameSequence interface {
	Next() (Frame, error)
	Close() error
}

// Sampler decodes recordings with the ffmpeg and ffprobe binaries.
type Sampler struct {
	ffmpeg   string
	ffprobe  string
	maxFrame int
}

// NewSampler creates a sampler; empty paths resolve the binaries from PATH.
func NewSampler(ffmpegPath, ffprobePath string) *Sampler {
	ffmpegPath = strings.TrimSpace(ffmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath = strings.TrimSpace(ffprobePath)
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Sampler{ffmpeg: ffmpegPath, ffprobe: ffprobePath, maxFrame: constants.MaxFrameDimension}
}

// Sample starts decoding path at fps frames per second. Frames larger than
// MaxFrameDimension are scaled down by the decoder.
func (s *Sampler) Sample(ctx context.Context, path string, fps float64) (FrameSequence, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("%w: frames per second must be positive", database.ErrInvalidInput)
	}
	info, err := s.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	width, height := fitDimensions(info.Width, info.Height, s.maxFrame)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.ffmpeg, ffmpegArgs(path, fps, width, height)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &limitedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	seq := newRawSequence(stdout, width, height, fps)
	seq.wait = func() error {
		err := cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
	seq.stop = cancel
	return seq, nil
}

func ffmpegArgs(path string, fps float64, width, height int) []string {
	filter := "fps=" + strconv.FormatFloat(fps, 'f', -1, 64) +
		",scale=" + strconv.Itoa(width) + ":" + strconv.Itoa(height)
	return []string{
		"-v", "error", "-hide_banner", "-nostdin",
		"-noautorotate",
		"-i", path,
		"-map", "0:v:0",
		"-vf", filter,
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	}
}

// fitDimensions scales width and height so neither exceeds maxDim, keeping
// both even as rawvideo scaling requires.
func fitDimensions(width, height, maxDim int) (int, int) {
	if maxDim > 0 && (width > maxDim || height > maxDim) {
		scale := float64(maxDim) / float64(max(width, height))
		width = int(float64(width) * scale)
		height = int(float64(height) * scale)
	}
	width = max(width&^1, 2)
	height = max(height&^1, 2)
	return width, height
}

// rawSequence reads packed rgb24 frames from a decoder pipe.
type rawSequence struct {
	r      io.Reader
	width  int
	height int
	fps    float64
	buf    []byte

	index int
	done  bool
	wait  func() error
	stop  func()

	closeOnce sync.Once
	closeErr  error
}

func newRawSequence(r io.Reader, width, height int, fps float64) *rawSequence {
	return &rawSequence{
		r:      r,
		width:  width,
		height: height,
		fps:    fps,
		buf:    make([]byte, width*height*3),
	}
}

func (s *rawSequence) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	if err != nil {
		s.done = true
		waitErr := s.finish()
		switch {
		case errors.Is(err, io.EOF) && waitErr == nil:
			return Frame{}, io.EOF
		case errors.Is(waitErr, context.Canceled), errors.Is(waitErr, context.DeadlineExceeded):
			return Frame{}, waitErr
		case waitErr != nil:
			return Frame{}, fmt.Errorf("%w: decode after frame %d: %w", database.ErrUnsupportedFormat, s.index, waitErr)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, fmt.Errorf("%w: truncated frame %d (%d of %d bytes)", database.ErrUnsupportedFormat, s.index, n, len(s.buf))
		default:
			return Frame{}, fmt.Errorf("%w: read frame %d: %w", database.ErrUnsupportedFormat, s.index, err)
		}
	}

	frame := Frame{
		Index:  s.index,
		Offset: time.Duration(float64(s.index) / s.fps * float64(time.Second)),
		Image:  rgb24ToRGBA(s.buf, s.width, s.height),
	}
	s.index++
	return frame, nil
}

// finish waits for the decoder once and returns its exit error.
func (s *rawSequence) finish() error {
	s.closeOnce.Do(func() {
		if s.wait != nil {
			s.closeErr = s.wait()
		}
		if s.stop != nil {
			s.stop()
		}
	})
	return s.closeErr
}

// Close stops the decoder. It is safe to call more than once.
func (s *rawSequence) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.done = true
	_ = s.finish()
	return nil
}

func rgb24ToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	for i, j := 0, 0; i+2 < len(data) && j+3 < len(pix); i, j = i+3, j+4 {
		pix[j] = data[i]
		pix[j+1] = data[i+1]
		pix[j+2] = data[i+2]
		pix[j+3] = 0xff
	}
	return img
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
