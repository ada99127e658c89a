package facematch

import (
	"math"
	"sync"

	"github.com/kozaktomas/rollcall/internal/database"
)

// Tracker de-bounces observations within one job: a student is written to the
// ledger once, and a recurring unknown face is archived once.
type Tracker struct {
	mu        sync.Mutex
	matched   map[string]struct{}
	unknowns  [][]float32
	threshold float64
	distance  database.DistanceFunc

	matchDetections int
}

// NewTracker creates a tracker; unknown faces closer than threshold to an
// already archived one count as the same person.
func NewTracker(threshold float64, distance database.DistanceFunc) *Tracker {
	if distance == nil {
		distance = database.EuclideanDistance
	}
	return &Tracker{
		matched:   make(map[string]struct{}),
		threshold: threshold,
		distance:  distance,
	}
}

// ObserveMatch counts a matched observation and reports whether it is the
// first one for the student in this job.
func (t *Tracker) ObserveMatch(studentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matchDetections++
	if _, seen := t.matched[studentID]; seen {
		return false
	}
	t.matched[studentID] = struct{}{}
	return true
}

// ClaimUnknown reports whether an unknown embedding should be archived and, if
// so, remembers it so later sightings of the same face are skipped.
func (t *Tracker) ClaimUnknown(embedding []float32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.unknowns {
		d := t.distance(embedding, u)
		if !math.IsNaN(d) && d <= t.threshold {
			return false
		}
	}
	t.unknowns = append(t.unknowns, embedding)
	return true
}

// MatchedStudents returns the number of distinct students matched so far.
func (t *Tracker) MatchedStudents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.matched)
}

// MatchDetections returns the number of matched observations so far.
func (t *Tracker) MatchDetections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matchDetections
}
