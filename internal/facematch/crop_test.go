package facematch

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestCropFace(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 50))
	frame.Set(20, 10, color.RGBA{R: 255, A: 255})

	tests := []struct {
		name    string
		region  image.Rectangle
		wantW   int
		wantH   int
		wantErr bool
	}{
		{"inside", image.Rect(10, 5, 30, 25), 20, 20, false},
		{"clamped", image.Rect(90, 40, 120, 80), 10, 10, false},
		{"inverted", image.Rect(30, 25, 10, 5), 20, 20, false},
		{"outside", image.Rect(200, 200, 220, 220), 0, 0, true},
		{"empty", image.Rect(10, 10, 10, 10), 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop, err := CropFace(frame, tt.region)
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyRegion) {
					t.Errorf("expected ErrEmptyRegion, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if crop.Bounds().Dx() != tt.wantW || crop.Bounds().Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %v", tt.wantW, tt.wantH, crop.Bounds())
			}
		})
	}

	crop, _ := CropFace(frame, image.Rect(10, 5, 30, 25))
	if got := crop.RGBAAt(10, 5); got.R != 255 {
		t.Errorf("expected copied pixel at crop (10,5), got %v", got)
	}
}

func TestLargestFace(t *testing.T) {
	if _, ok := LargestFace(nil); ok {
		t.Error("expected no face for empty input")
	}

	faces := []Observation{
		{Region: image.Rect(0, 0, 10, 10), Score: 1},
		{Region: image.Rect(0, 0, 30, 20), Score: 2},
		{Region: image.Rect(0, 0, 15, 15), Score: 3},
	}
	got, ok := LargestFace(faces)
	if !ok || got.Score != 2 {
		t.Errorf("expected the 30x20 face, got %+v", got)
	}
}
