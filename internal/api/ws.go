package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobLogs streams a migration job's log over WebSocket, one text
// message per line. Lines logged before the client connected are
// replayed first, so attaching late to a long conversion still shows
// the full phase history. The connection closes with the job's final
// status once everything has been sent.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Replay the backlog before polling for new lines.
	offset, ok := sendLines(conn, job, 0)
	if !ok {
		return
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			next, ok := sendLines(conn, job, offset)
			if !ok {
				return
			}
			if next == offset && !job.Running() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.Status))
				return
			}
			offset = next
		}
	}
}

// sendLines writes every log line past offset and returns the new
// offset. ok is false once the peer is gone.
func sendLines(conn *websocket.Conn, job *models.Job, offset int) (int, bool) {
	for _, line := range job.LogsSince(offset) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return offset, false
		}
		offset++
	}
	return offset, true
}
