package video

import (
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

func TestParseProbe(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"index": 0, "codec_name": "aac", "codec_type": "audio"},
			{"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720, "r_frame_rate": "30000/1001"}
		],
		"format": {"filename": "class.mp4", "duration": "95.500000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`)

	info, err := parseProbe(output)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", info.Width, info.Height)
	}
	if info.Duration != 95500*time.Millisecond {
		t.Errorf("expected 95.5s, got %v", info.Duration)
	}
	if info.Codec != "h264" {
		t.Errorf("expected h264, got %s", info.Codec)
	}
	if info.FrameRate < 29.97 || info.FrameRate > 29.98 {
		t.Errorf("expected ~29.97 fps, got %v", info.FrameRate)
	}
}

func TestParseProbe_StreamDurationFallback(t *testing.T) {
	output := []byte(`{"streams": [{"codec_name": "vp9", "codec_type": "video", "width": 640, "height": 480, "duration": "12"}], "format": {}}`)

	info, err := parseProbe(output)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Duration != 12*time.Second {
		t.Errorf("expected 12s, got %v", info.Duration)
	}
}

func TestParseProbe_Unsupported(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"audio only", `{"streams": [{"codec_type": "audio"}], "format": {"duration": "10"}}`},
		{"cover art", `{"streams": [{"codec_name": "mjpeg", "codec_type": "video", "width": 500, "height": 500}], "format": {}}`},
		{"no streams", `{"streams": [], "format": {}}`},
		{"invalid json", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProbe([]byte(tt.output))
			if !errors.Is(err, database.ErrUnsupportedFormat) {
				t.Errorf("expected ErrUnsupportedFormat, got %v", err)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30", 30},
		{"0/0", 0},
		{"", 0},
		{"bad/1", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
