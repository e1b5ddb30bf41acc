package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/irgordon/deploycenter/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Inbound traffic is control frames only.
	maxMessageSize = 512
)

// The CORS middleware on the router already validated the Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler relays hub events for one deployment to a browser.
type WebSocketHandler struct {
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

func NewWebSocketHandler(hub *telemetry.Hub, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{Hub: hub, Logger: logger}
}

// StreamDeployment handles GET /api/v1/ws/deployments/{id}.
func (h *WebSocketHandler) StreamDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("websocket upgrade failed",
			slog.String("deployment_id", deploymentID.String()),
			slog.Any("error", err))
		return
	}

	events := h.Hub.Subscribe(deploymentID)
	defer h.Hub.Unsubscribe(deploymentID, events)

	go h.readPump(ws, deploymentID)
	h.writePump(ws, events, deploymentID)
}

func (h *WebSocketHandler) writePump(ws *websocket.Conn, events chan telemetry.Event, deploymentID uuid.UUID) {
	defer ws.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
			// The completed event is the natural end of the stream.
			if ev.Kind == telemetry.EventDeploymentCompleted {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "deployment completed"))
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) readPump(ws *websocket.Conn, deploymentID uuid.UUID) {
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.Logger.Warn("websocket closed unexpectedly",
					slog.String("deployment_id", deploymentID.String()),
					slog.Any("error", err))
			}
			return
		}
	}
}
