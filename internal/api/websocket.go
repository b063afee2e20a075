package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/metrics"
	"github.com/anstrom/osprey/internal/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	bufferSize     = 256
)

// streamHandler fans each orchestrator HostResult out to every connected
// websocket client, grounded on the teacher's scan/discovery broadcast
// hub but generalized to a single result stream.
type streamHandler struct {
	metrics  *metrics.Registry
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unreg      chan *websocket.Conn
	messages   chan []byte
	shutdownCh chan struct{}
}

func newStreamHandler(registry *metrics.Registry) *streamHandler {
	h := &streamHandler{
		metrics: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unreg:      make(chan *websocket.Conn),
		messages:   make(chan []byte, bufferSize),
		shutdownCh: make(chan struct{}),
	}
	go h.run()
	return h
}

// resultMessage wraps a HostResult with an envelope type, the same
// pattern the teacher's WebSocketMessage uses for scan/discovery updates.
type resultMessage struct {
	Type      string                  `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Data      orchestrator.HostResult `json:"data"`
}

// broadcast is passed to orchestrator.RunStreaming as the onResult
// callback: every finished HostResult is pushed to connected clients.
func (h *streamHandler) broadcast(result orchestrator.HostResult) {
	msg := resultMessage{Type: "host_result", Timestamp: time.Now().UTC(), Data: result}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("failed to marshal host result for stream", "error", err)
		return
	}
	select {
	case h.messages <- data:
	default:
		logging.Warn("websocket broadcast channel full, dropping result")
	}
}

// Handle upgrades an HTTP request to a websocket and streams results to
// it until the client disconnects.
func (h *streamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	h.register <- conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *streamHandler) readPump(conn *websocket.Conn) {
	defer func() {
		h.unreg <- conn
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *streamHandler) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for range ticker.C {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

func (h *streamHandler) run() {
	for {
		select {
		case <-h.shutdownCh:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unreg:
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
		case msg := <-h.messages:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					_ = conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.Counter("websocket_messages_sent_total", metrics.Labels{"type": "host_result"})
			}
		}
	}
}

func (h *streamHandler) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *streamHandler) shutdown() {
	close(h.shutdownCh)
}
