// Package ws upgrades HTTP connections and pumps bus messages to them. Each
// client owns one bus subscription; slow clients head-drop on the bus side
// and never stall the worker.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/peoplecounter/internal/analytics"
	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/internal/observability"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The deployment fronts this with its own origin policy.
		return true
	},
}

type Handler struct {
	bus       *bus.Bus
	analytics *analytics.Service
}

func NewHandler(b *bus.Bus, a *analytics.Service) *Handler {
	return &Handler{bus: b, analytics: a}
}

// Handle upgrades the request and streams bus messages until the client
// disconnects. A fresh analytics snapshot is sent first so dashboards render
// immediately instead of waiting for the next broadcast.
func (h *Handler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	sub := h.bus.Subscribe(clientBuffer)
	observability.WSConnections.Inc()
	slog.Debug("ws client connected", "ip", c.ClientIP())

	done := make(chan struct{})
	go h.readUntilClose(conn, done)
	// The request context dies when this handler returns; the pump outlives
	// it and owns the hijacked connection.
	go h.writePump(context.Background(), conn, sub, done)
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription, done <-chan struct{}) {
	defer func() {
		h.bus.Unsubscribe(sub)
		conn.Close()
		observability.WSConnections.Dec()
		slog.Debug("ws client disconnected")
	}()

	if snap, err := h.analytics.Snapshot(ctx); err != nil {
		slog.Warn("initial analytics snapshot failed", "error", err)
	} else if !h.write(conn, bus.Message{Type: bus.TypeAnalytics, Data: snap}) {
		return
	}

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if !h.write(conn, msg) {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg bus.Message) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}

// readUntilClose discards client frames; the loop exists to notice the
// disconnect.
func (h *Handler) readUntilClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
