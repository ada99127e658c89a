package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// wsMessage is one frame sent to websocket clients.
type wsMessage struct {
	Type  string          `json:"type"`
	Job   *pipeline.Job   `json:"job,omitempty"`
	Event *pipeline.Event `json:"event,omitempty"`
}

// Websocket streams job events over a websocket connection. It mirrors Events:
// the current status first, then every event until the job finishes.
func (h *JobsHandler) Websocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	sub, err := h.jobs.Subscribe(jobID)
	if err != nil {
		respondServiceError(w, err, "failed to subscribe to job")
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "job_id", sanitizeForLog(jobID), "error", err)
		return
	}
	defer conn.Close()

	// Client frames are ignored; reading detects the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket client disconnected", "job_id", sanitizeForLog(jobID), "error", err)
				}
				return
			}
		}
	}()

	job := sub.Job()
	if err := conn.WriteJSON(wsMessage{Type: "status", Job: &job}); err != nil {
		return
	}
	if job.Status.Terminal() {
		closeWebsocket(conn)
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: event.Type, Event: &event}); err != nil {
				return
			}
			if isFinalEvent(event) {
				closeWebsocket(conn)
				return
			}
		case <-sub.Done():
			final := sub.Job()
			_ = conn.WriteJSON(wsMessage{Type: "status", Job: &final})
			closeWebsocket(conn)
			return
		}
	}
}

func closeWebsocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
