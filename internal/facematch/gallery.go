package facematch

import (
	"fmt"
	"math"
	"sort"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

// GalleryOptions configures how a gallery classifies embeddings
type GalleryOptions struct {
	Threshold float64 // maximum distance for a match, inclusive
	Metric    string  // euclidean or cosine

	// UseHNSW enables candidate pruning once the gallery holds at least
	// HNSWMinEmbeddings embeddings. Classification is then approximate: the
	// nearest embedding or a tied student may fall outside the candidates.
	UseHNSW           bool
	HNSWMinEmbeddings int
	HNSWCandidates    int
}

type galleryStudent struct {
	id       string
	name     string
	division *string
	vectors  [][]float32
}

// Gallery is an immutable snapshot of the biometric store used to classify faces.
// It is safe for concurrent use.
type Gallery struct {
	students   []galleryStudent // ordered by student ID
	byID       map[string]int
	embeddings int

	threshold  float64
	metric     string
	distance   database.DistanceFunc
	index      *database.HNSWIndex
	candidates int
}

// NewGallery builds a gallery from a biometric snapshot.
func NewGallery(records []database.StudentRecord, opts GalleryOptions) (*Gallery, error) {
	distance, err := database.DistanceFor(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", database.ErrInvalidInput)
	}

	g := &Gallery{
		byID:       make(map[string]int, len(records)),
		threshold:  opts.Threshold,
		metric:     opts.Metric,
		distance:   distance,
		candidates: opts.HNSWCandidates,
	}

	sorted := make([]database.StudentRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StudentID < sorted[j].StudentID })

	for _, rec := range sorted {
		if len(rec.Embeddings) == 0 {
			continue
		}
		s := galleryStudent{id: rec.StudentID, name: rec.Name, division: rec.Division}
		for _, e := range rec.Embeddings {
			if len(e.Vector) > 0 {
				s.vectors = append(s.vectors, e.Vector)
			}
		}
		if len(s.vectors) == 0 {
			continue
		}
		g.byID[s.id] = len(g.students)
		g.students = append(g.students, s)
		g.embeddings += len(s.vectors)
	}

	minEmbeddings := opts.HNSWMinEmbeddings
	if minEmbeddings <= 0 {
		minEmbeddings = constants.DefaultHNSWMinEmbeddings
	}
	if g.candidates <= 0 {
		g.candidates = constants.DefaultHNSWCandidates
	}
	if opts.UseHNSW && g.embeddings >= minEmbeddings {
		idx := database.NewHNSWIndex()
		if err := idx.BuildFromStudents(sorted, opts.Metric); err != nil {
			return nil, fmt.Errorf("build face index: %w", err)
		}
		g.index = idx
	}

	return g, nil
}

// Size returns the number of embeddings in the gallery.
func (g *Gallery) Size() int {
	return g.embeddings
}

// StudentCount returns the number of students with at least one embedding.
func (g *Gallery) StudentCount() int {
	return len(g.students)
}

// Threshold returns the match threshold.
func (g *Gallery) Threshold() float64 {
	return g.threshold
}

// Distance returns the distance function used by the gallery.
func (g *Gallery) Distance() database.DistanceFunc {
	return g.distance
}

// Indexed reports whether classification consults the HNSW index.
func (g *Gallery) Indexed() bool {
	return g.index != nil
}

// Classify finds the nearest enrolled embedding. Ties within TieTolerance go to
// the lexicographically smaller student ID; a distance equal to the threshold matches.
func (g *Gallery) Classify(embedding []float32) Classification {
	result := Classification{Distance: math.Inf(1)}
	if len(g.students) == 0 || len(embedding) == 0 {
		return result
	}

	var positions []int
	if candidates := g.candidateStudents(embedding); candidates != nil {
		positions = candidates
	} else {
		positions = make([]int, len(g.students))
		for i := range positions {
			positions[i] = i
		}
	}

	// Per-student minimum, then the global minimum.
	nearest := make([]float64, len(positions))
	globalMin := math.Inf(1)
	for k, i := range positions {
		nearest[k] = math.Inf(1)
		for _, v := range g.students[i].vectors {
			d := g.distance(embedding, v)
			if math.IsNaN(d) {
				continue
			}
			nearest[k] = min(nearest[k], d)
		}
		globalMin = min(globalMin, nearest[k])
	}
	if math.IsInf(globalMin, 1) {
		return result
	}

	// positions are in ascending student ID order, so the first student
	// within tolerance of the minimum is the tie winner.
	best := -1
	bestDist := globalMin
	for k, i := range positions {
		if nearest[k]-globalMin <= constants.TieTolerance {
			best, bestDist = i, nearest[k]
			break
		}
	}

	if best < 0 {
		return result
	}
	result.Distance = bestDist
	if globalMin <= g.threshold {
		s := g.students[best]
		result.Matched = true
		result.StudentID = s.id
		result.Name = s.name
		result.Division = s.division
	}
	return result
}

// candidateStudents returns the gallery positions suggested by the HNSW index in
// ascending student order, or nil when the exact scan must be used.
func (g *Gallery) candidateStudents(embedding []float32) []int {
	if g.index == nil {
		return nil
	}
	ids, err := g.index.Search(embedding, g.candidates)
	if err != nil || len(ids) == 0 {
		return nil
	}
	positions := make([]int, 0, len(ids))
	for _, id := range ids {
		if i, ok := g.byID[id]; ok {
			positions = append(positions, i)
		}
	}
	sort.Ints(positions)
	return positions
}
