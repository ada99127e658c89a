package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex wraps the HNSW graph for nearest-embedding search over enrolled students.
// Every node key is an embedding ordinal; the index maps it back to the owning student.
type HNSWIndex struct {
	graph       *hnsw.Graph[int64]
	idToStudent map[int64]string
	dim         int
	mu          sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToStudent: make(map[int64]string),
	}
}

func newGraph(metric string) *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if metric == "cosine" {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// BuildFromStudents builds the index from a student snapshot.
// Embeddings whose dimension differs from the first indexed one are skipped;
// they can never be the nearest neighbor of a well-formed query.
func (h *HNSWIndex) BuildFromStudents(students []StudentRecord, metric string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dim = 0
	h.idToStudent = make(map[int64]string)

	var nextID int64
	for i := range students {
		for _, emb := range students[i].Embeddings {
			if len(emb.Vector) == 0 {
				continue
			}
			if h.graph == nil {
				h.graph = newGraph(metric)
				h.dim = len(emb.Vector)
			}
			if len(emb.Vector) != h.dim {
				continue
			}
			h.graph.Add(hnsw.MakeNode(nextID, emb.Vector))
			h.idToStudent[nextID] = students[i].StudentID
			nextID++
		}
	}
	return nil
}

// Search finds the k nearest embeddings to the query and returns the distinct
// student IDs owning them, nearest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if len(query) != h.dim {
		return nil, errors.New("query dimension does not match index")
	}

	neighbors := h.graph.Search(query, k)
	seen := make(map[string]struct{}, len(neighbors))
	students := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := h.idToStudent[n.Key]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		students = append(students, id)
	}
	return students, nil
}

// Count returns the number of indexed embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToStudent)
}

// IsEmpty returns true if the index has no graph data.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}
