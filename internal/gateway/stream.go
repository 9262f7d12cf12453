package gateway

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/sessiond/internal/stream"
)

// handleStream serves session updates as server-sent events until the
// client disconnects or the session reaches a terminal update.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := stream.WriteSSEOpen(w); err != nil {
		return
	}
	flusher.Flush()

	updates := s.fanout.Subscribe(r.Context(), r.PathValue("agentID"), r.PathValue("sessionID"))
	for u := range updates {
		if err := stream.WriteSSEUpdate(w, u); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleWebSocket streams the same updates over a WebSocket, for clients
// that keep one bidirectional connection instead of SSE.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	sessionID := r.URL.Query().Get("sessionId")
	if agentID == "" || sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "agentId and sessionId query parameters are required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := s.fanout.Subscribe(r.Context(), agentID, sessionID)
	for u := range updates {
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}
}
