package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// Loopback-only server; the browser UI connects from a file:// or
	// localhost origin, so the default same-origin check is wrong here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsFrame is a bus event as the UI sees it.
type wsFrame struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// handleEventStream upgrades to a websocket and forwards every bus event to
// the UI until the client goes away. Each client gets its own subscription;
// a slow client drops events rather than stalling the daemon.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	// Reads are discarded; the read loop only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream client connected", zap.String("remote", conn.RemoteAddr().String()))
	for {
		select {
		case evt := <-events:
			frame := wsFrame{
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp.UnixMilli(),
				Payload:   evt.Payload,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
