package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mpetrov/chatgate/backend/internal/middleware"
	"github.com/mpetrov/chatgate/backend/internal/services"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/mpetrov/chatgate/backend/pkg/response"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 4096
)

type RealtimeHandler struct {
	presence *services.PresenceDirectory
	upgrader websocket.Upgrader
}

func NewRealtimeHandler() *RealtimeHandler {
	return &RealtimeHandler{
		presence: services.GetPresence(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin checks are handled by the CORS layer; the
			// socket itself is gated by the token middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts a websocket connection to the presence directory. Writes are
// serialized through a channel so CloseAll and the ping loop never race the
// gorilla connection.
type wsConn struct {
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan interface{}, 16),
		done: make(chan struct{}),
	}
}

func (w *wsConn) WriteJSON(v interface{}) error {
	select {
	case w.send <- v:
		return nil
	case <-w.done:
		return websocket.ErrCloseSent
	}
}

// Close is safe to call from both the read loop and CloseAll concurrently.
func (w *wsConn) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

// writePump drains queued messages and keeps the connection alive with pings.
func (w *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}

// HandleWS upgrades the request and registers the connection with the
// presence directory until the peer disconnects
// GET /ws
func (h *RealtimeHandler) HandleWS(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Uint("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := newWSConn(conn)
	connID := h.presence.Add(userID, client)
	logger.Debug().Uint("user_id", userID).Str("conn_id", connID).Msg("websocket connected")

	go client.writePump()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Read loop: the gateway only tracks liveness, inbound frames are
	// dropped. Returning tears the connection down.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.presence.Remove(userID, connID)
	client.Close()
	logger.Debug().Uint("user_id", userID).Str("conn_id", connID).Msg("websocket disconnected")
}

// ListOnline reports currently connected users
// GET /api/admin/presence
func (h *RealtimeHandler) ListOnline(c *gin.Context) {
	response.Success(c, gin.H{
		"count": h.presence.Count(),
		"users": h.presence.OnlineUsers(),
	})
}
