package pipeline

import (
	"sync"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Event types broadcast while a job runs.
const (
	EventStarted      = "started"
	EventProgress     = "progress"
	EventMatched      = "matched"
	EventUnknownSaved = "unknown_saved"
	EventWarning      = "warning"
	EventCompleted    = "completed"
	EventFailed       = "failed"
)

// Event represents an event from a job.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// MatchedData is the payload of a matched event.
type MatchedData struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	Distance    float64 `json:"distance"`
	Frame       int     `json:"frame"`
	Created     bool    `json:"created"`
}

// EventBroadcaster provides listener management and event broadcasting for jobs.
type EventBroadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// ListenerCount returns the number of attached listeners.
func (b *EventBroadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
