package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame pushed to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is a broadcast log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// WebSocketHandler streams job progress, session transitions, and service
// logs to connected operator clients. It implements
// interfaces.EventPublisher for the runner, sweeper, and auth machine.
type WebSocketHandler struct {
	logger            arbor.ILogger
	mu                sync.RWMutex
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	progressThrottler *rate.Limiter // Caps job_progress frame rate
	serverInstanceID  string        // Unique ID generated on startup - clients use to detect server restart

	logMu      sync.Mutex
	recentLogs []LogEntry
}

const recentLogLimit = 200

// NewWebSocketHandler creates the event hub.
func NewWebSocketHandler(cfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if cfg != nil && cfg.ProgressInterval != "" {
		if interval, err := time.ParseDuration(cfg.ProgressInterval); err == nil && interval > 0 {
			h.progressThrottler = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().
				Str("interval", cfg.ProgressInterval).
				Msg("Throttler initialized for job_progress events")
		} else if err != nil {
			logger.Warn().
				Err(err).
				Str("interval", cfg.ProgressInterval).
				Msg("Failed to parse progress throttle interval - throttler disabled")
		}
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("total_clients", clientCount).Msg("WebSocket client connected")

	h.sendTo(conn, WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
		},
	})

	// Drain client frames until the connection drops; the stream is
	// server-to-client only.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	clientCount := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Info().Int("total_clients", clientCount).Msg("WebSocket client disconnected")
}

// Publish broadcasts an event to every connected client. High-frequency
// job_progress events are throttled; everything else goes out immediately.
func (h *WebSocketHandler) Publish(eventType string, payload map[string]interface{}) {
	if eventType == "job_progress" && h.progressThrottler != nil && !h.progressThrottler.Allow() {
		return
	}
	h.broadcast(WSMessage{Type: eventType, Payload: payload})
}

// BroadcastLog pushes one log line to clients and keeps it in the recent
// ring for late joiners.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.logMu.Lock()
	h.recentLogs = append(h.recentLogs, entry)
	if len(h.recentLogs) > recentLogLimit {
		h.recentLogs = h.recentLogs[len(h.recentLogs)-recentLogLimit:]
	}
	h.logMu.Unlock()

	h.broadcast(WSMessage{Type: "log", Payload: entry})
}

// GetRecentLogsHandler returns the buffered recent log lines.
// GET /api/logs/recent
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	h.logMu.Lock()
	logs := make([]LogEntry, len(h.recentLogs))
	copy(logs, h.recentLogs)
	h.logMu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.removeClient(conn)
		}
	}
}

func (h *WebSocketHandler) sendTo(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
	}
}
