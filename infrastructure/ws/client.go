package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// UserClient is one websocket connection of a signed-in user.
type UserClient struct {
	UserId string

	hub       IHub
	conn      *websocket.Conn
	send      chan []byte
	chats     map[string]struct{} // guarded by the hub registry lock
	closeOnce sync.Once
	logger    *slog.Logger
}

func NewClient(userId string, hub IHub, conn *websocket.Conn, logger *slog.Logger) *UserClient {
	return &UserClient{
		UserId: userId,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		chats:  make(map[string]struct{}),
		logger: logger,
	}
}

// Send queues a frame for this connection only.
func (c *UserClient) Send(message []byte) bool {
	return c.trySend(message)
}

func (c *UserClient) trySend(message []byte) (ok bool) {
	defer func() {
		// send is closed once the hub drops the client
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *UserClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ReadPump hands every inbound frame to handle until the connection fails,
// then unregisters the client.
func (c *UserClient) ReadPump(handle func([]byte)) {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "userId", c.UserId, "error", err)
			}
			return
		}
		handle(message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *UserClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("websocket write failed", "userId", c.UserId, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping failed", "userId", c.UserId, "error", err)
				return
			}
		}
	}
}
