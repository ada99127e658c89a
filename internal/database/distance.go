package database

import (
	"fmt"
	"math"
)

// DistanceFunc computes the distance between two embeddings; lower is closer.
type DistanceFunc func(a, b []float32) float64

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// EuclideanDistance computes the L2 distance between two vectors.
// Vectors of different or zero length are infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceFor returns the distance function for a metric name.
func DistanceFor(metric string) (DistanceFunc, error) {
	switch metric {
	case "", "euclidean":
		return EuclideanDistance, nil
	case "cosine":
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}
}

// ValidateEmbeddings checks that a batch is non-empty and every vector is
// non-empty and of the same length.
func ValidateEmbeddings(embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return fmt.Errorf("%w: no embeddings", ErrValidation)
	}
	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) == 0 {
			return fmt.Errorf("%w: embedding %d is empty", ErrValidation, i)
		}
		if len(e) != dim {
			return fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", ErrValidation, i, len(e), dim)
		}
	}
	return nil
}
