package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// Events streams job events as server-sent events until the job ends or the
// client disconnects. A finished job gets its final status and the stream closes.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	sub, err := h.jobs.Subscribe(jobID)
	if err != nil {
		// Jobs of earlier runs only have their final state.
		job, statusErr := h.jobs.Status(r.Context(), jobID)
		if statusErr != nil {
			respondServiceError(w, statusErr, "failed to get job")
			return
		}
		flusher, ok := setupSSEHeaders(w)
		if !ok {
			return
		}
		sendSSEEvent(w, flusher, "status", job)
		return
	}
	defer sub.Close()

	flusher, ok := setupSSEHeaders(w)
	if !ok {
		return
	}

	sendSSEEvent(w, flusher, "status", sub.Job())
	if sub.Job().Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isFinalEvent(event) {
				return
			}
		case <-sub.Done():
			for {
				select {
				case event := <-sub.Events:
					sendSSEEvent(w, flusher, event.Type, event)
					if isFinalEvent(event) {
						return
					}
				default:
					sendSSEEvent(w, flusher, "status", sub.Job())
					return
				}
			}
		}
	}
}

func isFinalEvent(e pipeline.Event) bool {
	return e.Type == pipeline.EventCompleted || e.Type == pipeline.EventFailed
}

// setupSSEHeaders sets the event stream headers, failing when the writer cannot stream.
func setupSSEHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}
