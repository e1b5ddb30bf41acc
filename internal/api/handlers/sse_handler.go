package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/telemetry"
)

// SSEHandler is the EventSource alternative to the websocket stream for
// clients behind proxies that mangle upgrades.
type SSEHandler struct {
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

func NewSSEHandler(hub *telemetry.Hub, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{Hub: hub, Logger: logger}
}

// StreamLogs handles GET /api/v1/deployments/{id}/logs.
func (h *SSEHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.Hub.Subscribe(deploymentID)
	defer h.Hub.Unsubscribe(deploymentID, events)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, body); err != nil {
				return
			}
			flusher.Flush()
			if ev.Kind == telemetry.EventDeploymentCompleted {
				return
			}
		}
	}
}
