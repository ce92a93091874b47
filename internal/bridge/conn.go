package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
	"vale/internal/protocol"
)

// Conn wraps a device WebSocket connection. Gorilla connections allow only
// one concurrent writer, so every write goes through the mutex; the read loop,
// the bus forwarder and the idle sweep may all try to write.
type Conn struct {
	ws      *websocket.Conn
	userID  string
	writeMu sync.Mutex
	idMu    sync.RWMutex
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteFrame serializes and sends an outbound frame.
func (c *Conn) WriteFrame(frame *protocol.OutboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame)
}

// ReadMessage blocks for the next raw message from the device.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// UserID returns the authenticated user id, or "" before authentication.
func (c *Conn) UserID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.userID
}

func (c *Conn) setUserID(userID string) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.userID = userID
}
