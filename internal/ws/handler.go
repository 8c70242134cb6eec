package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/events"
	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/logging"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // WebView pages arrive with file:// and app-scheme origins
	},
}

// Handler streams host events to WebSocket clients.
type Handler struct {
	bus     *events.Bus
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandler creates a stream handler over the given bus.
func NewHandler(bus *events.Bus, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{bus: bus, metrics: metrics, log: log}
}

// clientMessage is the only inbound shape the stream accepts.
type clientMessage struct {
	Type string `json:"type"`
}

// HandleConnection upgrades the request and forwards bus events until
// the client disconnects or the bus shuts down.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	stream, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// The read loop only detects pings and disconnects. Every write
	// happens below; gorilla connections allow a single writer.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	h.send(conn, map[string]interface{}{
		"type":    "system",
		"message": "connected to extension host stream",
	})

	// Control pings surface peers that vanished without closing.
	keepalive := time.NewTicker(pingInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				// Bus closed, the host is shutting down.
				return
			}
			if err := h.send(conn, ev); err != nil {
				return
			}
		case <-pings:
			if err := h.send(conn, map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			}); err != nil {
				return
			}
		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	return conn.WriteJSON(data)
}
