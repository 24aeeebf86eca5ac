package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/middleware"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WebSocketHandler runs chat turns over a WebSocket, streaming graph node
// transitions as they happen before the final reply.
type WebSocketHandler struct {
	asst    *assistant.Assistant
	origins middleware.Origins
}

// NewWebSocketHandler creates a new WebSocket chat handler. The handler
// honors the same origin allow-list as the HTTP CORS middleware.
func NewWebSocketHandler(asst *assistant.Assistant, origins middleware.Origins) *WebSocketHandler {
	return &WebSocketHandler{asst: asst, origins: origins}
}

// wsEvent is one server-to-client frame. Type is "node", "turn" or "error".
type wsEvent struct {
	Type string                `json:"type"`
	Node domain.GraphNode      `json:"node,omitempty"`
	Turn *assistant.TurnOutput `json:"turn,omitempty"`
	Err  string                `json:"error,omitempty"`
}

type wsChatMessage struct {
	Message string `json:"message"`
}

// ServeHTTP upgrades the connection and processes chat messages until the
// client disconnects. Session and user identity come from query params; a
// missing session_id starts a fresh session.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins.Patterns(),
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	slog.Info("websocket chat connected", "user_id", userID, "session_id", sessionID)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			slog.Debug("websocket read ended", "error", err, "session_id", sessionID)
			return
		}

		var msg wsChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Err: "invalid message"})
			continue
		}

		onNode := func(node domain.GraphNode) {
			h.writeEvent(ctx, ws, wsEvent{Type: "node", Node: node})
		}
		out, err := h.asst.ChatStream(ctx, sessionID, userID, msg.Message, onNode)
		if err != nil {
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Err: err.Error()})
			continue
		}
		h.writeEvent(ctx, ws, wsEvent{Type: "turn", Turn: &out})
	}
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal websocket event", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}
