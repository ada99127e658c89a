package facematch

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// ErrEmptyRegion is returned when a face region does not overlap the frame.
var ErrEmptyRegion = errors.New("face region is empty")

// CropFace copies the face region out of the frame. The region is clamped to
// the frame bounds; a region outside the frame is rejected.
func CropFace(frame image.Image, region image.Rectangle) (*image.RGBA, error) {
	r := region.Canon().Intersect(frame.Bounds())
	if r.Empty() {
		return nil, ErrEmptyRegion
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, r.Min, draw.Src)
	return dst, nil
}

// LargestFace returns the observation with the largest region area.
func LargestFace(observations []Observation) (Observation, bool) {
	best := -1
	bestArea := -1
	for i, o := range observations {
		r := o.Region.Canon()
		if area := r.Dx() * r.Dy(); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return Observation{}, false
	}
	return observations[best], true
}
