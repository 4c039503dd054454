package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport is the slice of a websocket connection the Connection state
// machine needs; *clientConn satisfies it, tests substitute an in-memory one.
type transport interface {
	write(mt int, data []byte) error
	writeJSON(v any) error
	writeClose(code int, reason string) error
	close() error
}

type clientConn struct {
	rawConn *websocket.Conn
	mu      sync.Mutex
}

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}

func (c *clientConn) writeClose(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	return c.rawConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *clientConn) close() error {
	return c.rawConn.Close()
}
