// Package video inspects classroom recordings with ffprobe and samples
// decoded frames from them with ffmpeg.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// Info describes the first video stream of a recording.
type Info struct {
	Path       string
	Duration   time.Duration // 0 when the container does not report one
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	FormatName string
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Duration   string `json:"duration"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Probe runs ffprobe against path. A file without a decodable video stream
// yields ErrUnsupportedFormat.
func (s *Sampler) Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, s.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Info{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("%w: ffprobe: %s", database.ErrUnsupportedFormat, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	info, err := parseProbe(output)
	if err != nil {
		return Info{}, err
	}
	info.Path = path
	return info, nil
}

func parseProbe(output []byte) (Info, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe parse: %w", database.ErrUnsupportedFormat, err)
	}

	for _, stream := range result.Streams {
		if !strings.EqualFold(stream.CodecType, "video") {
			continue
		}
		if stream.Width <= 0 || stream.Height <= 0 {
			continue
		}
		// Cover art is reported as a single-frame video stream.
		if stream.CodecName == "mjpeg" || stream.CodecName == "png" {
			if parseSeconds(stream.Duration) == 0 && parseSeconds(result.Format.Duration) == 0 {
				continue
			}
		}

		seconds := parseSeconds(result.Format.Duration)
		if seconds == 0 {
			seconds = parseSeconds(stream.Duration)
		}
		return Info{
			Duration:   time.Duration(seconds * float64(time.Second)),
			Width:      stream.Width,
			Height:     stream.Height,
			Codec:      stream.CodecName,
			FrameRate:  parseFrameRate(stream.RFrameRate),
			FormatName: result.Format.FormatName,
		}, nil
	}
	return Info{}, fmt.Errorf("%w: no video stream", database.ErrUnsupportedFormat)
}

// parseSeconds returns 0 for missing or invalid values.
func parseSeconds(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 {
		return 0
	}
	return parsed
}

// parseFrameRate parses ffprobe rationals such as "30000/1001".
func parseFrameRate(value string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return parseSeconds(num)
	}
	n, d := parseSeconds(num), parseSeconds(den)
	if d == 0 {
		return 0
	}
	return n / d
}
