package handlers

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/live"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

const (
	liveBuffer   = 16
	writeTimeout = 10 * time.Second
)

// liveMessage is one frame on the live socket. The first frame is a snapshot of
// the current record, which is null once the record was removed or expired.
type liveMessage struct {
	Type   string       `json:"type"`
	Record *live.Record `json:"record"`
}

// live streams an order's live records over a websocket until the client goes
// away or the record is removed. A subscriber that falls behind is disconnected
// and resyncs from the snapshot when it reconnects.
func (h *ordersHandler) live(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromCtx(ctx).With(zap.String("order_id", c.Param("id")))

	events := make(chan live.Event, liveBuffer)
	lagging := make(chan struct{})
	var lagOnce sync.Once
	snapshot, unsub, err := h.svc.Watch(ctx, actor(c), c.Param("id"), func(e live.Event) {
		select {
		case events <- e:
		default:
			lagOnce.Do(func() { close(lagging) })
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error
		log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// reads only to notice the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m liveMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(m)
	}
	if err := write(liveMessage{Type: "snapshot", Record: snapshot}); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case e := <-events:
			rec := e.Record
			if err := write(liveMessage{Type: string(e.Type), Record: &rec}); err != nil {
				log.Debug("live write failed", zap.Error(err))
				return
			}
			if e.Type == live.EventRemoved {
				closeWith(conn, websocket.CloseNormalClosure, "order removed")
				return
			}
		case <-lagging:
			log.Warn("live subscriber fell behind")
			closeWith(conn, websocket.CloseTryAgainLater, "subscriber too slow")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}
