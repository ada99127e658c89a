// Package facematch attributes detected faces to enrolled students.
// It holds the gallery snapshot, the per-job de-bounce tracker and face crop helpers.
package facematch

import (
	"context"
	"image"
)

// Observation is one face found in a frame
type Observation struct {
	Region    image.Rectangle // in frame pixel coordinates
	Embedding []float32
	Score     float64 // detector confidence, 0 when unknown
}

// Detector locates faces in an image and encodes each one
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Observation, error)
}

// Classification is the outcome of matching one embedding against the gallery
type Classification struct {
	Matched   bool
	StudentID string
	Name      string
	Division  *string
	Distance  float64 // distance to the nearest embedding, +Inf when the gallery is empty
}
