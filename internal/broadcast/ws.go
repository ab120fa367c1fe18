package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSHandler bridges the hub to websocket clients on /ws/events.
type WSHandler struct {
	Hub    *Hub
	Logger *zap.Logger

	PingInterval time.Duration
	PingTimeout  time.Duration
}

func (h *WSHandler) pingInterval() time.Duration {
	if h.PingInterval > 0 {
		return h.PingInterval
	}
	return 30 * time.Second
}

func (h *WSHandler) pingTimeout() time.Duration {
	if h.PingTimeout > 0 {
		return h.PingTimeout
	}
	return 10 * time.Second
}

func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket accept failed", zap.Error(err))
		}
		return
	}

	id := uuid.NewString()
	sub := h.Hub.Subscribe(id)
	defer h.Hub.Unsubscribe(id)

	ctx := c.Request.Context()
	if h.Logger != nil {
		h.Logger.Info("subscriber connected", zap.String("subscriber", id))
	}

	// Drain client frames; any traffic counts as liveness.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
			sub.MarkAlive()
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval())
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout())
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if sub.MarkMiss() >= h.Hub.MaxMisses {
					conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
					return
				}
				continue
			}
			sub.MarkAlive()
		case ev, ok := <-sub.C:
			if !ok {
				// Pruned by the hub.
				conn.Close(websocket.StatusPolicyViolation, "pruned")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, h.pingTimeout())
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				if h.Logger != nil {
					h.Logger.Warn("subscriber write failed",
						zap.String("subscriber", id),
						zap.Error(err))
				}
				return
			}
		}
	}
}
