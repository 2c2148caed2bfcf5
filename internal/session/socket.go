package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientMessage is one inbound frame from a participant.
type clientMessage struct {
	Type           string `json:"type"`
	ConsultationID string `json:"consultationId"`
	Speaker        string `json:"speaker"`
	Language       string `json:"language"`
	Payload        string `json:"payload"`
}

// maxChunkBytes caps a single audio chunk after base64 decoding.
const maxChunkBytes = 2 << 20

// SocketConfig holds socket handler configuration.
type SocketConfig struct {
	// AllowedOrigins lists origins permitted to open a session connection.
	// Empty allows any origin.
	AllowedOrigins []string
}

// SocketHandler upgrades connections and routes session frames to the
// coordinator.
type SocketHandler struct {
	hub         *Hub
	coordinator *Coordinator
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewSocketHandler creates a new socket handler
func NewSocketHandler(cfg SocketConfig, hub *Hub, coordinator *Coordinator, logger *zap.Logger) *SocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketHandler{
		hub:         hub,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}
}

// originChecker allows any origin when none are configured. Requests without
// an Origin header (non-browser clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection and starts the pumps.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, 256),
	}
	h.hub.Register(client)

	// r.Context() dies when ServeHTTP returns, so the connection gets its
	// own context that lives until the read pump exits.
	ctx, cancel := context.WithCancel(context.Background())

	go h.writePump(client, ws)
	go h.readPump(ctx, cancel, client, ws)
}

func (h *SocketHandler) readPump(ctx context.Context, cancel context.CancelFunc, client *Client, ws *websocket.Conn) {
	// Consultations this connection joined, for cleanup on disconnect.
	joined := map[string]struct{}{}

	defer func() {
		cancel()
		for id := range joined {
			h.coordinator.Leave(id, client.ID)
		}
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4 * maxChunkBytes / 3)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(client, "malformed message")
			continue
		}

		switch msg.Type {
		case "start-consultation":
			if err := h.coordinator.Join(ctx, msg.ConsultationID, client.ID); err != nil {
				h.sendError(client, err.Error())
				continue
			}
			joined[msg.ConsultationID] = struct{}{}
			h.hub.Subscribe(client, Topic(msg.ConsultationID))

		case "audio-chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				h.sendError(client, "audio payload is not valid base64")
				continue
			}
			if len(audio) > maxChunkBytes {
				h.sendError(client, "audio chunk too large")
				continue
			}
			if err := h.coordinator.SubmitAudioChunk(ctx, msg.ConsultationID, client.ID, msg.Speaker, msg.Language, audio); err != nil {
				h.sendError(client, err.Error())
			}

		default:
			h.sendError(client, "unknown message type "+msg.Type)
		}
	}
}

func (h *SocketHandler) writePump(client *Client, ws *websocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *SocketHandler) sendError(client *Client, message string) {
	h.hub.SendTo(client, Event{
		Type:      "error",
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
