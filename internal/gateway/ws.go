package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/events/bus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second

	// wsBufferSize bounds undelivered events per client; slow consumers
	// drop rather than stall the bus.
	wsBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamLogs upgrades to a websocket and forwards log events. The subject
// query parameter narrows the stream; the default is every log subject.
// GET /api/v1/logs/stream?subject=logs.task
func (h *Handlers) StreamLogs(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		subject = "logs.>"
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan *bus.Event, wsBufferSize)
	sub, err := h.eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		select {
		case events <- event:
		default:
			// Client is not keeping up; drop the event.
		}
		return nil
	})
	if err != nil {
		h.logger.Error("log stream subscription failed",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	defer sub.Unsubscribe()

	// Reader loop detects client disconnect; inbound payloads are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
